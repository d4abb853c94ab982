package trace

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestWriteRead(t *testing.T) {
	tr := newTestTrace()
	tr.Seed = -12
	tr.Bug = "Assertion"
	tr.Message = "payload must be 100"

	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, tr))

	read, err := Read(buf)
	require.NoError(t, err)
	require.True(t, read.Frozen())
	require.True(t, read.Equal(tr))
	require.Equal(t, tr.Program, read.Program)
	require.Equal(t, tr.Strategy, read.Strategy)
	require.Equal(t, tr.Seed, read.Seed)
	require.Equal(t, tr.Bug, read.Bug)
	require.Equal(t, tr.Message, read.Message)
}

func TestWriteReadEmpty(t *testing.T) {
	tr := New("empty", "random", 1)
	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, tr))

	read, err := Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, read.Len())
	require.Empty(t, read.Bug)
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	tr := newTestTrace()
	require.NoError(t, WriteFile(path, tr))

	read, err := ReadFile(path)
	require.NoError(t, err)
	require.True(t, read.Equal(tr))
}

func TestRejectIncompatibleVersion(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, write(buf, newTestTrace(), "2.0.0"))
	_, err := Read(buf)
	require.ErrorContains(t, err, "unsupported format version")

	buf.Reset()
	require.NoError(t, write(buf, newTestTrace(), "1.4.2"))
	_, err = Read(buf)
	require.NoError(t, err)
}

func TestRejectGarbage(t *testing.T) {
	_, err := Read(bytes.NewBufferString("not a trace"))
	require.Error(t, err)
}

func TestRejectOutOfRangeStepFields(t *testing.T) {
	valid := appendStep(nil, Step{Index: 3, Kind: BooleanChoice, Chosen: 1})
	s, err := parseStep(valid)
	require.NoError(t, err)
	require.Equal(t, BooleanChoice, s.Kind)

	// 257 would wrap around to MachineChoice if it was narrowed before the check
	kind := protowire.AppendTag(nil, stepKind, protowire.VarintType)
	kind = protowire.AppendVarint(kind, 257)
	_, err = parseStep(kind)
	require.Error(t, err)

	index := protowire.AppendTag(nil, stepIndex, protowire.VarintType)
	index = protowire.AppendVarint(index, 1<<40)
	_, err = parseStep(index)
	require.Error(t, err)
}
