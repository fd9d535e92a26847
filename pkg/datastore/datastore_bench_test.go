package datastore

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datastore/pkg/config"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

func generateRecords(n int) []types.Record {
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.Record{
			"id":    types.Int64Value(int64(i)),
			"name":  types.String(fmt.Sprintf("user-%d", i)),
			"score": types.Float64Value(float64(i%1000) / 10),
			"ok":    types.BoolValue(i%2 == 0),
		}
	}
	return out
}

func benchStore(b *testing.B, root, compression string) *Store {
	b.Helper()
	cfg := config.NewConfig(root)
	cfg.Storage.Compression = compression
	s, err := Open(*cfg, WithLogger(zap.NewNop()))
	if err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkPut(b *testing.B) {
	records := generateRecords(10000)
	sch := schema.New("id", schema.Column{Name: "id", Type: types.Int64})
	s := benchStore(b, b.TempDir(), "snappy")
	defer s.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := s.Put("bench", sch, records); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(len(records)*b.N)/b.Elapsed().Seconds(), "records/s")
}

func BenchmarkScanFromDisk(b *testing.B) {
	for _, codec := range []string{"none", "snappy", "zstd"} {
		b.Run(codec, func(b *testing.B) {
			records := generateRecords(50000)
			sch := schema.New("id", schema.Column{Name: "id", Type: types.Int64})
			root := b.TempDir()
			s := benchStore(b, root, codec)
			if err := s.Put("bench", sch, records); err != nil {
				b.Fatal(err)
			}
			if err := s.Close(); err != nil {
				b.Fatal(err)
			}
			// a fresh store reads the table from disk on every scan
			s = benchStore(b, root, codec)
			defer s.Close()

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				seq, err := s.Scan("bench", ScanOptions{})
				if err != nil {
					b.Fatal(err)
				}
				n := 0
				for _, err := range seq {
					if err != nil {
						b.Fatal(err)
					}
					n++
				}
				if n != len(records) {
					b.Fatalf("scanned %d rows, want %d", n, len(records))
				}
			}
		})
	}
}
