package main

import (
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// loadOrRandomModel loads the model at path, or builds the seeded random
// model every tool defaults to when no file is given.
func loadOrRandomModel(path string, seed int64) (*desc.Model, error) {
	if path == "" {
		return desc.Random(desc.RandomOptions{Seed: seed}), nil
	}
	return desc.Load(path)
}

// newBackend builds the backend from a "name:config" string, empty meaning
// the environment default.
func newBackend(config string) (neuralnet.Backend, error) {
	if config == "" {
		return neuralnet.New()
	}
	return neuralnet.NewWithConfig(config)
}
