package analysis

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Full-text search engines split documents into immutable segments.
        Each segment carries its own sorted term dictionary and postings, and a
        manifest lists the live segments. Queries are resolved per segment and
        merged using a global ranking that accounts for term frequency and inverse
        document frequency across the whole snapshot.`,
	"long": strings.Repeat(`Information retrieval systems combine tokenization, stemming
        and stop word removal to normalize text into searchable terms. The inverted
        index maps each term to the documents containing it, along with positional
        information. Compaction merges small segments and drops deleted documents. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for _, name := range []string{Standard, English} {
		a, _ := Lookup(name)
		for size, text := range sampleTexts {
			b.Run(name+"/"+size, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(text)))
				for i := 0; i < b.N; i++ {
					_ = a.Tokenize(text)
				}
			})
		}
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Default().Tokenize(text)
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	baseWord := "segmented search index compaction "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Default().Tokenize(text)
			}
		})
	}
}
