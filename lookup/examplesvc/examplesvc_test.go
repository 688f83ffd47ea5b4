package examplesvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_EvaluatesScriptAgainstArgs(t *testing.T) {
	s := New()
	s.RegisterMethod("sum", "args[0] + args[1]")

	got, err := s.Call(context.Background(), "sum", []interface{}{2, 3})
	require.NoError(t, err)
	assert.EqualValues(t, 5, got)
}

func TestCall_UnknownMethodIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestCall_ScriptErrorIsWrapped(t *testing.T) {
	s := New()
	s.RegisterMethod("broken", "this is not valid javascript (((")
	_, err := s.Call(context.Background(), "broken", nil)
	assert.Error(t, err)
}
