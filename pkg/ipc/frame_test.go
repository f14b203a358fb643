package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineSplitterArbitraryChunks(t *testing.T) {
	var stream bytes.Buffer
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, WriteFrame(&stream, map[string]any{
			"id":      fmt.Sprintf("r%d", i),
			"command": map[string]any{"action": "getText", "params": map[string]any{"selector": "p:nth-child(" + fmt.Sprint(i) + ")"}},
		}))
	}
	data := stream.Bytes()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var s LineSplitter
		var got []string
		for off := 0; off < len(data); {
			size := 1 + rng.Intn(40)
			if off+size > len(data) {
				size = len(data) - off
			}
			for _, line := range s.Feed(data[off : off+size]) {
				var doc struct {
					ID string `json:"id"`
				}
				require.NoError(t, json.Unmarshal(line, &doc))
				got = append(got, doc.ID)
			}
			off += size
		}
		require.Len(t, got, n)
		for i, id := range got {
			require.Equal(t, fmt.Sprintf("r%d", i), id)
		}
		require.Zero(t, s.Pending())
	}
}

func TestLineSplitterRetainsPartialLine(t *testing.T) {
	var s LineSplitter
	require.Empty(t, s.Feed([]byte(`{"id":"a","comm`)))
	require.Equal(t, 15, s.Pending())
	lines := s.Feed([]byte("and\":1}\n{\"id\":\"b\"}\r\n\n  \n{\"id\""))
	require.Equal(t, [][]byte{[]byte(`{"id":"a","command":1}`), []byte(`{"id":"b"}`)}, lines)
	require.Equal(t, []byte(`{"id"`), s.Flush())
	require.Zero(t, s.Pending())
}

type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestLineReaderUnboundedLineAndTrailingFragment(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 200*1024)
	input := append([]byte(`{"id":"`), big...)
	input = append(input, []byte("\"}\n{\"id\":\"tail\"}")...)

	lr := NewLineReader(bytes.NewReader(input))
	first, err := lr.Next()
	require.NoError(t, err)
	require.Len(t, first, len(big)+len(`{"id":""}`))

	second, err := lr.Next()
	require.NoError(t, err)
	require.Equal(t, `{"id":"tail"}`, string(second))

	_, err = lr.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestLineReaderByteAtATime(t *testing.T) {
	lr := NewLineReader(oneByteReader{bytes.NewReader([]byte("{\"a\":1}\n{\"b\":2}\n"))})
	a, err := lr.Next()
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(a))
	b, err := lr.Next()
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(b))
	_, err = lr.Next()
	require.ErrorIs(t, err, io.EOF)
}
