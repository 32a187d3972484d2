package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboxEvictsOldestWhenFull(t *testing.T) {
	b := NewInbox(2)
	b.Enqueue(Envelope{Payload: []byte("1")})
	b.Enqueue(Envelope{Payload: []byte("2")})
	b.Enqueue(Envelope{Payload: []byte("3")}) // evicts "1"

	first := <-b.Recv()
	second := <-b.Recv()
	assert.Equal(t, "2", string(first.Payload))
	assert.Equal(t, "3", string(second.Payload))
}

func TestSharderStableForSameDCID(t *testing.T) {
	s := NewSharder([]byte("connid-secret-connid-secret-conn"), 8)
	dcid := []byte("a-client-chosen-dcid")

	first := s.Shard(dcid)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Shard(dcid))
	}
}

func TestSharderRoundRobinsEmptyDCID(t *testing.T) {
	s := NewSharder([]byte("connid-secret-connid-secret-conn"), 4)
	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		seen[s.Shard(nil)] = true
	}
	assert.True(t, len(seen) > 1, "round robin should spread across more than one worker")
}

func TestSharderBoundedByWorkerCount(t *testing.T) {
	s := NewSharder([]byte("connid-secret-connid-secret-conn"), 3)
	for i := 0; i < 50; i++ {
		dcid := []byte{byte(i), byte(i * 7), byte(i * 13)}
		idx := s.Shard(dcid)
		assert.True(t, idx >= 0 && idx < 3)
	}
}
