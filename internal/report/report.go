// Package report summarizes a compile batch for the build command,
// as a table for people or as JSON for tooling.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"stratus/internal/compile"
)

// Instructions occupy one machine word each in the abstract encoding.
const wordSize = 4

// FileLine is one unit's row in the build summary.
type FileLine struct {
	Path         string        `json:"path"`
	Instructions int           `json:"instructions"`
	Constants    int           `json:"constants"`
	CacheHit     bool          `json:"cache_hit"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Summary aggregates a compile batch.
type Summary struct {
	Scripts      int64         `json:"scripts"`
	Instructions int64         `json:"instructions"`
	Constants    int64         `json:"constants"`
	CodeBytes    int64         `json:"code_bytes"`
	CacheHits    int64         `json:"cache_hits"`
	StubsBuilt   int           `json:"stubs_built"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Files        []FileLine    `json:"files"`
}

// Build summarizes scripts. File rows are sorted by path.
func Build(scripts []*compile.Script, stubsBuilt int) Summary {
	s := Summary{StubsBuilt: stubsBuilt}
	for _, sc := range scripts {
		s.Scripts++
		s.Instructions += int64(sc.Stats.Instructions)
		s.Constants += int64(sc.Stats.Constants)
		s.CodeBytes += int64(sc.Stats.Instructions) * wordSize
		if sc.Stats.CacheHit {
			s.CacheHits++
		}
		s.Elapsed += sc.Stats.Elapsed
		s.Files = append(s.Files, FileLine{
			Path:         sc.Path,
			Instructions: sc.Stats.Instructions,
			Constants:    sc.Stats.Constants,
			CacheHit:     sc.Stats.CacheHit,
			Elapsed:      sc.Stats.Elapsed,
		})
	}
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	return s
}

// Render writes the summary as a table. Cache hits carry an asterisk.
func Render(w io.Writer, s Summary) {
	for _, f := range s.Files {
		mark := " "
		if f.CacheHit {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-40s %8s instrs %6d consts %12v\n",
			mark, f.Path, humanize.Comma(int64(f.Instructions)), f.Constants, f.Elapsed)
	}
	fmt.Fprintf(w, "\n%d %s, %s instructions (%s), %d stubs built",
		s.Scripts, plural(int(s.Scripts), "script"), humanize.Comma(s.Instructions),
		humanize.Bytes(uint64(s.CodeBytes)), s.StubsBuilt)
	if s.CacheHits > 0 {
		fmt.Fprintf(w, ", %d cached", s.CacheHits)
	}
	fmt.Fprintf(w, " in %v\n", s.Elapsed)
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
