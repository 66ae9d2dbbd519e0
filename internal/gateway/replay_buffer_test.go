package gateway

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	got := rb.Range(3, 7)
	assert.Equal(t, [][]byte{[]byte("3"), []byte("4"), []byte("5"), []byte("6"), []byte("7")}, got)
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}

	assert.Equal(t, 5, rb.Len())
	assert.Empty(t, rb.Range(1, 3), "evicted")
	assert.Equal(t, [][]byte{[]byte("4"), []byte("5"), []byte("6"), []byte("7"), []byte("8")}, rb.Range(0, 100))
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'z'
	assert.Equal(t, []byte("abc"), rb.Range(1, 1)[0])
}
