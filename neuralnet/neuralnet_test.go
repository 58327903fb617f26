package neuralnet_test

import (
	"os"
	"testing"

	"github.com/hwata3535/KataGo/neuralnet"
	_ "github.com/hwata3535/KataGo/neuralnet/dummy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
	// A constructor that never succeeds, for error path coverage.
	neuralnet.Register("failing", func(config string) (neuralnet.Backend, error) {
		return nil, errors.Errorf("this backend always fails (config %q)", config)
	})
}

func TestMain(m *testing.M) {
	neuralnet.Initialize()
	code := m.Run()
	neuralnet.Cleanup()
	os.Exit(code)
}

func TestInitializeTwicePanics(t *testing.T) {
	require.True(t, neuralnet.IsInitialized())
	assert.Panics(t, func() { neuralnet.Initialize() })
}

func TestList(t *testing.T) {
	names := neuralnet.List()
	assert.Contains(t, names, "dummy")
	assert.Contains(t, names, "failing")
	assert.IsIncreasing(t, names)
}

func TestNewWithConfig(t *testing.T) {
	backend, err := neuralnet.NewWithConfig("dummy")
	require.NoError(t, err)
	assert.Equal(t, "dummy", backend.Name())
	backend.Finalize()

	backend, err = neuralnet.NewWithConfig("dummy:devices=3")
	require.NoError(t, err)
	assert.Len(t, backend.Devices(), 3)
	backend.Finalize()

	_, err = neuralnet.NewWithConfig("failing:")
	require.ErrorContains(t, err, "always fails")

	_, err = neuralnet.NewWithConfig("bogus:whatever")
	require.ErrorContains(t, err, "bogus")
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv(neuralnet.ConfigEnvVar, "dummy:devices=2")
	backend, err := neuralnet.New()
	require.NoError(t, err)
	assert.Len(t, backend.Devices(), 2)
	backend.Finalize()

	t.Setenv(neuralnet.ConfigEnvVar, "failing")
	_, err = neuralnet.New()
	require.Error(t, err)
	assert.Panics(t, func() { neuralnet.MustNew() })
}

func TestNewFallsBackToDefaultConfig(t *testing.T) {
	if _, found := os.LookupEnv(neuralnet.ConfigEnvVar); found {
		t.Skipf("%s is set, skipping default config test", neuralnet.ConfigEnvVar)
	}
	neuralnet.DefaultConfig = "dummy:devices=4"
	defer func() { neuralnet.DefaultConfig = "" }()
	backend := neuralnet.MustNew()
	assert.Len(t, backend.Devices(), 4)
	backend.Finalize()
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "unset", neuralnet.Device{}.String())
	assert.False(t, neuralnet.Device{}.IsSet())
	d := neuralnet.Device{Backend: "cpu", Index: 2}
	assert.Equal(t, "cpu:2", d.String())
	assert.True(t, d.IsSet())
}
