package filters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/pdfshrink/ir/raw"
)

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func predictorParams(predictor, columns int) *raw.DictObj {
	params := raw.Dict()
	params.Set(raw.NameObj{Val: "Predictor"}, raw.NumberInt(int64(predictor)))
	params.Set(raw.NameObj{Val: "Colors"}, raw.NumberInt(1))
	params.Set(raw.NameObj{Val: "BitsPerComponent"}, raw.NumberInt(8))
	params.Set(raw.NameObj{Val: "Columns"}, raw.NumberInt(int64(columns)))
	return params
}

func TestFlateDecode(t *testing.T) {
	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), deflate(t, []byte("hello world")), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPNGPredictor(t *testing.T) {
	// Row 1: Sub filter. Row 2: Up filter.
	comp := deflate(t, []byte{1, 10, 12, 20, 2, 1, 1, 1})

	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), comp, predictorParams(12, 3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42, 11, 23, 43}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestPNGPredictorPaethAndAverage(t *testing.T) {
	data := []byte{
		0, 10, 20,
		3, 4, 6, // avg(left,up): 4+5=9, 6+avg(9,20)=6+14=20
		4, 1, 1, // paeth picks up, then up
	}
	out, err := applyPredictor(data, predictorParams(15, 2))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 20, 9, 20, 10, 21}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{5, 1, 1, 7, 2, 2}, predictorParams(2, 3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if want := []byte{5, 6, 7, 7, 9, 11}; !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestLZWDecode(t *testing.T) {
	input := []byte("hello hello hello hello")
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	if _, err := w.Write(input); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	out, err := NewLZWDecoder().Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	out, err := NewRunLengthDecoder().Decode(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hi!AA" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	out, err := NewASCII85Decoder().Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "Hello, World!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode(context.Background(), []byte("68656c6c 6f20776f726c64>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineChainsFilters(t *testing.T) {
	comp := deflate(t, []byte("chained"))
	hexed := []byte{}
	for _, b := range comp {
		hexed = append(hexed, "0123456789abcdef"[b>>4], "0123456789abcdef"[b&0x0f])
	}
	hexed = append(hexed, '>')

	dict := raw.Dict()
	dict.SetKey("Filter", raw.NewArray(raw.NameLiteral("ASCIIHexDecode"), raw.NameLiteral("FlateDecode")))
	stream := raw.NewStream(dict, hexed)

	out, err := DefaultPipeline(Limits{}).DecodeStream(context.Background(), stream)
	if err != nil {
		t.Fatalf("pipeline decode: %v", err)
	}
	if string(out) != "chained" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineUnsupportedFilter(t *testing.T) {
	_, err := DefaultPipeline(Limits{}).Decode(context.Background(), []byte{0}, []string{"JPXDecode"}, nil)
	var ue UnsupportedError
	if err == nil || !errors.As(err, &ue) || ue.Filter != "JPXDecode" {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestPipelineSizeLimit(t *testing.T) {
	comp := deflate(t, bytes.Repeat([]byte{'a'}, 4096))
	p := DefaultPipeline(Limits{MaxDecompressedSize: 1024})
	_, err := p.Decode(context.Background(), comp, []string{"FlateDecode"}, nil)
	if !errors.Is(err, ErrSizeLimit) {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestExtractFiltersAlignsParams(t *testing.T) {
	dict := raw.Dict()
	dict.SetKey("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	dict.SetKey("DecodeParms", raw.NewArray(raw.NullObj{}, predictorParams(12, 4)))

	names, params := ExtractFilters(dict)
	if len(names) != 2 || len(params) != 2 {
		t.Fatalf("names=%v params=%d", names, len(params))
	}
	if params[0] != nil {
		t.Fatalf("null DecodeParms entry should map to nil, got %v", params[0])
	}
	if intParam(params[1], "Columns", 0) != 4 {
		t.Fatalf("second params should carry Columns 4")
	}
}
