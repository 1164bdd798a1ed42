package epacketsink

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/aead"
	"infuse/internal/deadline"
	"infuse/internal/epacket"
	"infuse/internal/keystore"
	"infuse/internal/tdf"
)

type captureInterface struct {
	name string

	mu   sync.Mutex
	sent [][]byte
	down bool
}

func (c *captureInterface) Name() string     { return c.name }
func (c *captureInterface) HasVersion() bool { return true }
func (c *captureInterface) Send(wire []byte, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return assert.AnError
	}
	c.sent = append(c.sent, append([]byte(nil), wire...))
	return nil
}

func (c *captureInterface) frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newSink(t *testing.T, poolCap int) (*Backend, *captureInterface, *epacket.Dispatcher) {
	t.Helper()
	keys := keystore.New(make([]byte, 32), make([]byte, 32))
	dis := epacket.NewDispatcher(aead.ChaCha20Poly1305, keys, poolCap, 512, func() uint32 { return 0 })
	iface := &captureInterface{name: "udp"}
	dis.RegisterInterface(iface)
	b, err := New("stream", dis, "udp", "", epacket.AuthNetwork, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 256)
	require.NoError(t, err)
	return b, iface, dis
}

func TestBlockWriteQueuesTDFFrame(t *testing.T) {
	b, iface, _ := newSink(t, 4)
	require.NoError(t, b.BlockWrite(0, make([]byte, 256)))
	assert.Equal(t, 1, iface.frames())
	assert.Equal(t, 1, b.CurrentBlock())
	assert.Equal(t, uint64(0), b.Dropped())
}

func TestPoolExhaustionDropsWithoutError(t *testing.T) {
	b, _, dis := newSink(t, 1)
	// Hold the single pool frame so the sink cannot allocate.
	f, err := dis.AllocTX(deadline.NoWait())
	require.NoError(t, err)
	defer f.Release()

	require.NoError(t, b.BlockWrite(0, make([]byte, 256)))
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, 0, b.CurrentBlock())
}

func TestWorksAsTDFBackend(t *testing.T) {
	b, iface, _ := newSink(t, 4)
	inst := tdf.NewInstance(b)
	inst.RegisterSchema(0x0101, 8)
	require.NoError(t, inst.Append(&tdf.Record{TDFID: 0x0101, SampleCount: 1, Flags: tdf.FlagTimestamp, Payload: make([]byte, 8)}))
	require.NoError(t, inst.Flush())
	require.NoError(t, inst.Close())
	assert.Equal(t, 1, iface.frames())
}
