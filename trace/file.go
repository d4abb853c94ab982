package trace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Version of the trace file format written by this package.
// Readers accept any file whose version satisfies SupportedVersions.
const (
	FormatVersion     = "1.0.0"
	SupportedVersions = "^1"
)

// A trace file is a gzip stream of varint length prefixed records.
// Each record holds a single length delimited field: the header (field 1) or a step (field 2).
// The header is always the first record.
const (
	recordHeader protowire.Number = 1
	recordStep   protowire.Number = 2
)

const (
	headerVersion  protowire.Number = 1
	headerProgram  protowire.Number = 2
	headerStrategy protowire.Number = 3
	headerSeed     protowire.Number = 4
	headerBug      protowire.Number = 5
	headerMessage  protowire.Number = 6
)

const (
	stepIndex        protowire.Number = 1
	stepKind         protowire.Number = 2
	stepChosen       protowire.Number = 3
	stepAlternatives protowire.Number = 4
)

var supported = func() *semver.Constraints {
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		panic(err)
	}
	return c
}()

// Write the trace to dest as a compressed trace file
func Write(dest io.Writer, t *Trace) error {
	return write(dest, t, FormatVersion)
}

func write(dest io.Writer, t *Trace, version string) error {
	gzWriter := gzip.NewWriter(dest)
	if err := writeRecord(gzWriter, recordHeader, appendHeader(nil, t, version)); err != nil {
		return errors.WithMessage(err, "could not write trace header")
	}
	for _, s := range t.Steps {
		if err := writeRecord(gzWriter, recordStep, appendStep(nil, s)); err != nil {
			return errors.WithMessagef(err, "could not write step %d", s.Index)
		}
	}
	return errors.WithMessage(gzWriter.Close(), "could not flush trace")
}

// Write the trace to the file at path, replacing any existing file
func WriteFile(path string, t *Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create trace file")
	}
	if err := Write(f, t); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "could not close trace file")
}

func writeRecord(dest io.Writer, num protowire.Number, msg []byte) error {
	record := protowire.AppendTag(nil, num, protowire.BytesType)
	record = protowire.AppendBytes(record, msg)

	buf := protowire.AppendVarint(make([]byte, 0, binary.MaxVarintLen64+len(record)), uint64(len(record)))
	buf = append(buf, record...)
	_, err := dest.Write(buf)
	return err
}

func appendHeader(b []byte, t *Trace, version string) []byte {
	b = protowire.AppendTag(b, headerVersion, protowire.BytesType)
	b = protowire.AppendString(b, version)
	b = protowire.AppendTag(b, headerProgram, protowire.BytesType)
	b = protowire.AppendString(b, t.Program)
	b = protowire.AppendTag(b, headerStrategy, protowire.BytesType)
	b = protowire.AppendString(b, t.Strategy)
	b = protowire.AppendTag(b, headerSeed, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(t.Seed))
	if t.Bug != "" {
		b = protowire.AppendTag(b, headerBug, protowire.BytesType)
		b = protowire.AppendString(b, t.Bug)
		b = protowire.AppendTag(b, headerMessage, protowire.BytesType)
		b = protowire.AppendString(b, t.Message)
	}
	return b
}

func appendStep(b []byte, s Step) []byte {
	b = protowire.AppendTag(b, stepIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Index))
	b = protowire.AppendTag(b, stepKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Kind))
	b = protowire.AppendTag(b, stepChosen, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Chosen)
	if len(s.Alternatives) > 0 {
		var packed []byte
		for _, a := range s.Alternatives {
			packed = protowire.AppendVarint(packed, a)
		}
		b = protowire.AppendTag(b, stepAlternatives, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// Read a trace file written by Write.
// The returned trace is frozen.
func Read(source io.Reader) (*Trace, error) {
	gzReader, err := gzip.NewReader(source)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read source as a gzip stream")
	}
	defer gzReader.Close()
	reader := bufio.NewReader(gzReader)
	buffer := &bytes.Buffer{}

	var t *Trace
	for {
		num, msg, err := readRecord(reader, buffer)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch num {
		case recordHeader:
			if t != nil {
				return nil, errors.New("trace: duplicate header record")
			}
			if t, err = parseHeader(msg); err != nil {
				return nil, err
			}
		case recordStep:
			if t == nil {
				return nil, errors.New("trace: step record before header")
			}
			s, err := parseStep(msg)
			if err != nil {
				return nil, err
			}
			if s.Index != len(t.Steps) {
				return nil, errors.Errorf("trace: expected step %d, found step %d", len(t.Steps), s.Index)
			}
			t.Steps = append(t.Steps, s)
		default:
			return nil, errors.Errorf("trace: unknown record type %d", num)
		}
	}
	if t == nil {
		return nil, errors.New("trace: file contains no header")
	}
	t.Freeze()
	return t, nil
}

// Read the trace file at path
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open trace file")
	}
	defer f.Close()
	return Read(f)
}

func readRecord(reader *bufio.Reader, buffer *bytes.Buffer) (protowire.Number, []byte, error) {
	l, err := binary.ReadUvarint(reader)
	if err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		return 0, nil, errors.WithMessage(err, "could not read size prefix")
	}
	buffer.Reset()
	if _, err := io.CopyN(buffer, reader, int64(l)); err != nil {
		return 0, nil, errors.WithMessage(err, "could not read record")
	}

	b := buffer.Bytes()
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, nil, errors.WithMessage(protowire.ParseError(n), "could not parse record tag")
	}
	if typ != protowire.BytesType {
		return 0, nil, errors.Errorf("trace: unexpected wire type %d for record", typ)
	}
	msg, m := protowire.ConsumeBytes(b[n:])
	if m < 0 {
		return 0, nil, errors.WithMessage(protowire.ParseError(m), "could not parse record")
	}
	// The buffer is reused by the next record
	return num, bytes.Clone(msg), nil
}

func parseHeader(b []byte) (*Trace, error) {
	t := New("", "", 0)
	version := ""
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "could not parse header")
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType && num >= headerVersion && num <= headerMessage && num != headerSeed:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.WithMessage(protowire.ParseError(n), "could not parse header")
			}
			b = b[n:]
			switch num {
			case headerVersion:
				version = v
			case headerProgram:
				t.Program = v
			case headerStrategy:
				t.Strategy = v
			case headerBug:
				t.Bug = v
			case headerMessage:
				t.Message = v
			}
		case typ == protowire.VarintType && num == headerSeed:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.WithMessage(protowire.ParseError(n), "could not parse header")
			}
			b = b[n:]
			t.Seed = protowire.DecodeZigZag(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.WithMessage(protowire.ParseError(n), "could not parse header")
			}
			b = b[n:]
		}
	}
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	return t, nil
}

func checkVersion(version string) error {
	if version == "" {
		return errors.New("trace: header has no format version")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(err, "trace: invalid format version %q", version)
	}
	if !supported.Check(v) {
		return errors.Errorf("trace: unsupported format version %v, expected %v", v, SupportedVersions)
	}
	return nil
}

func parseStep(b []byte) (Step, error) {
	s := Step{Alternatives: []uint64{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, errors.WithMessage(protowire.ParseError(n), "could not parse step")
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == stepIndex || num == stepKind || num == stepChosen):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, errors.WithMessage(protowire.ParseError(n), "could not parse step")
			}
			b = b[n:]
			switch num {
			case stepIndex:
				if v > math.MaxInt32 {
					return s, errors.Errorf("trace: step index %d is out of range", v)
				}
				s.Index = int(v)
			case stepKind:
				if v < uint64(MachineChoice) || v > uint64(IntegerChoice) {
					return s, errors.Errorf("trace: step %d has unknown kind %d", s.Index, v)
				}
				s.Kind = Kind(v)
			case stepChosen:
				s.Chosen = v
			}
		case typ == protowire.BytesType && num == stepAlternatives:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, errors.WithMessage(protowire.ParseError(n), "could not parse step")
			}
			b = b[n:]
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return s, errors.WithMessage(protowire.ParseError(m), "could not parse alternatives")
				}
				packed = packed[m:]
				s.Alternatives = append(s.Alternatives, v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, errors.WithMessage(protowire.ParseError(n), "could not parse step")
			}
			b = b[n:]
		}
	}
	if s.Kind < MachineChoice || s.Kind > IntegerChoice {
		return s, errors.Errorf("trace: step %d has unknown kind %d", s.Index, s.Kind)
	}
	return s, nil
}
