package result

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessAndFailure(t *testing.T) {
	ok := Success[int, string](42)
	assert.True(t, ok.IsSuccess())
	assert.False(t, ok.IsError())
	v, present := ok.Value()
	assert.True(t, present)
	assert.Equal(t, 42, v)
	_, hasErr := ok.Error()
	assert.False(t, hasErr)

	bad := Failure[int]("boom")
	assert.False(t, bad.IsSuccess())
	assert.True(t, bad.IsError())
	e, hasErr := bad.Error()
	assert.True(t, hasErr)
	assert.Equal(t, "boom", e)
	_, present = bad.Value()
	assert.False(t, present)
}

func TestZeroValueIsFailure(t *testing.T) {
	var r Result[string, error]
	assert.True(t, r.IsError())
	assert.Equal(t, "fallback", r.ValueOr("fallback"))
}

func TestFromPair(t *testing.T) {
	r := FromPair(strconv.Atoi("12"))
	require.True(t, r.IsSuccess())
	assert.Equal(t, 12, r.Unwrap())

	r = FromPair(strconv.Atoi("twelve"))
	require.True(t, r.IsError())
	err, _ := r.Error()
	var numErr *strconv.NumError
	assert.True(t, errors.As(err, &numErr))
}

func TestUnwrapPanicsOnFailure(t *testing.T) {
	r := Failure[int](errors.New("missing"))
	assert.PanicsWithValue(t, "result: unwrap on failure: missing", func() {
		r.Unwrap()
	})
}

func TestMapAndThen(t *testing.T) {
	doubled := Map(Success[int, error](4), func(v int) int { return v * 2 })
	assert.Equal(t, 8, doubled.Unwrap())

	failed := Map(Failure[int](errors.New("nope")), func(v int) int { return v * 2 })
	assert.True(t, failed.IsError())

	parsed := AndThen(Success[string, error]("7"), func(s string) Result[int, error] {
		return FromPair(strconv.Atoi(s))
	})
	assert.Equal(t, 7, parsed.Unwrap())
}

func TestString(t *testing.T) {
	assert.Equal(t, "Success(1)", Success[int, string](1).String())
	assert.Equal(t, "Failure(x)", Failure[int]("x").String())
}
