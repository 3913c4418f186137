package stream

import (
	"context"
	"io"
	"strings"
	"testing"
)

func benchmarkBody(n int) string {
	var b strings.Builder
	b.WriteString("data: " + chunkHello + "\n\n")
	for i := 0; i < n; i++ {
		b.WriteString(`data: {"choices":[{"index":0,"delta":{"content":"token "}}]}` + "\n\n")
	}
	b.WriteString("data: " + chunkWorld + "\n\n")
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func BenchmarkParser_Feed(b *testing.B) {
	body := []byte(benchmarkBody(256))
	b.SetBytes(int64(len(body)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		p := NewParser()
		for off := 0; off < len(body); off += 512 {
			p.Feed(body[off:min(off+512, len(body))])
		}
		p.Flush()
	}
}

func BenchmarkStream_Completion(b *testing.B) {
	body := benchmarkBody(256)
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s := New(context.Background(), io.NopCloser(strings.NewReader(body)))
		if _, err := s.Completion(); err != nil {
			b.Fatal(err)
		}
	}
}
