// Package must turns errors into panics, for command-line tools and tests
// where the only sane reaction to a failure is to stop.
//
// After https://github.com/janpfeifer/must.
package must

import (
	"k8s.io/klog/v2"
)

// M logs and panics if err is not nil. Reassign it to change the failure
// behavior of every variant at once.
var M = func(err error) {
	if err != nil {
		klog.Errorf("Must not error: %+v\nPanicking ...\n\n", err)
		panic(err)
	}
}

// M1 checks the error with M and returns the remaining value.
func M1[T1 any](value1 T1, err error) T1 {
	M(err)
	return value1
}

// M2 checks the error with M and returns the remaining values.
func M2[T1 any, T2 any](value1 T1, value2 T2, err error) (T1, T2) {
	M(err)
	return value1, value2
}
