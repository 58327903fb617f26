// Package _default includes the default evaluation backends, currently just
// the pure Go cpu backend.
//
// To use it simply include:
//
//	import _ "github.com/hwata3535/KataGo/neuralnet/default"
//
// Selection between the included backends is then done with
// neuralnet.New, honoring the KATAGO_BACKEND environment variable.
package _default

import (
	_ "github.com/hwata3535/KataGo/neuralnet/cpu"
)
