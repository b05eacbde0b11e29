//go:build !rknn

package rknn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactoryWithoutSupport(t *testing.T) {
	_, err := NewFactory(Options{ModelFile: "yolov8s.rknn"})(0)
	assert.ErrorIs(t, err, ErrNotSupported)
}
