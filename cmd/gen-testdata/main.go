package main

import (
	"bufio"
	crand "crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

const bases = "ACGT"

var (
	nPairs    = flag.Int("n", 1000000, "number of id:sequence pairs to generate")
	idLen     = flag.Int("id-len", 16, "identifier length in bases")
	maxSeqLen = flag.Int("max-seq-len", 100, "maximum sequence length in bases")
)

func newRand() *rand.Rand {
	var seedBytes [8]byte
	crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}

func randomBases(rng *rand.Rand, buf []byte) {
	for i := range buf {
		buf[i] = bases[rng.Intn(len(bases))]
	}
}

func main() {
	flag.Parse()
	rng := newRand()
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	seen := make(map[string]struct{}, *nPairs)
	id := make([]byte, *idLen)
	seq := make([]byte, *maxSeqLen)
	for len(seen) < *nPairs {
		randomBases(rng, id)
		if _, ok := seen[string(id)]; ok {
			continue
		}
		seen[string(id)] = struct{}{}

		n := rng.Intn(*maxSeqLen + 1)
		randomBases(rng, seq[:n])

		fmt.Fprintf(w, "%s:%s\n", id, seq[:n])
	}
}
