package window

import "time"

// uiQueryTimeout bounds how long a caller off the UI thread waits for an
// answer from it.
const uiQueryTimeout = 500 * time.Millisecond

// queryUI runs fn through dispatch and waits for its result. It returns
// false when dispatch refuses the call or the UI thread does not answer
// in time.
func queryUI(dispatch func(func()) bool, fn func() bool, timeout time.Duration) bool {
	result := make(chan bool, 1)
	if !dispatch(func() { result <- fn() }) {
		return false
	}
	select {
	case v := <-result:
		return v
	case <-time.After(timeout):
		return false
	}
}
