package tdf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// These tests pin the Instance↔Backend contract with a generated
// mock: exactly one BlockWrite per committed block, block indices
// handed out in order, and the degraded plateau latching after the
// first failed write.

func TestSyncFlushIssuesExactlyOneBlockWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().BlockSize().Return(64).AnyTimes()
	backend.EXPECT().Name().Return("mock").AnyTimes()
	backend.EXPECT().RequiresSync().Return(true).AnyTimes()
	backend.EXPECT().BlockWrite(0, gomock.Len(64)).Return(nil).Times(1)

	inst := NewInstance(backend)
	inst.RegisterSchema(10, 4)
	require.NoError(t, inst.Append(&Record{TDFID: 10, SampleCount: 1, Flags: FlagTimestamp, Payload: make([]byte, 4)}))
	require.NoError(t, inst.Flush())
	assert.False(t, inst.Degraded())
}

func TestWriteFailureLatchesDegraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().BlockSize().Return(64).AnyTimes()
	backend.EXPECT().Name().Return("mock").AnyTimes()
	backend.EXPECT().RequiresSync().Return(true).AnyTimes()
	backend.EXPECT().BlockWrite(gomock.Any(), gomock.Any()).Return(errors.New("flash full")).Times(1)

	inst := NewInstance(backend)
	inst.RegisterSchema(10, 4)
	require.NoError(t, inst.Append(&Record{TDFID: 10, SampleCount: 1, Flags: FlagTimestamp, Payload: make([]byte, 4)}))
	// The commit failure surfaces via the plateau, not Flush's return.
	require.NoError(t, inst.Flush())
	assert.True(t, inst.Degraded())
}

func TestBlockIndicesHandedOutInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().BlockSize().Return(32).AnyTimes()
	backend.EXPECT().Name().Return("mock").AnyTimes()
	backend.EXPECT().RequiresSync().Return(true).AnyTimes()
	gomock.InOrder(
		backend.EXPECT().BlockWrite(0, gomock.Any()).Return(nil),
		backend.EXPECT().BlockWrite(1, gomock.Any()).Return(nil),
	)

	inst := NewInstance(backend)
	inst.RegisterSchema(10, 4)
	for range 2 {
		require.NoError(t, inst.Append(&Record{TDFID: 10, SampleCount: 1, Flags: FlagTimestamp, Payload: make([]byte, 4)}))
		require.NoError(t, inst.Flush())
	}
	assert.Equal(t, 2, inst.CommittedBlocks())
}
