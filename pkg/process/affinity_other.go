//go:build !linux

package process

func PinThread(index int) (err error) {
	err = ErrUnsupported
	return
}

func CurrentCPUs() ([]int, error) {
	return nil, ErrUnsupported
}
