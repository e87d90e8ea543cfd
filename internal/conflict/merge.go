package conflict

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// MergeResult is the outcome of a three-way merge.
type MergeResult struct {
	Content     string
	Conflicts   int // hunks both sides changed differently
	ChangedRows int
	ClashRows   int
}

// Confidence is the share of changed lines merged without a clash.
func (m MergeResult) Confidence() float64 {
	if m.ChangedRows == 0 {
		return 1
	}
	return 1 - float64(m.ClashRows)/float64(m.ChangedRows)
}

// Merge3 merges local and remote edits of ancestor line by line.
// Hunks changed on one side take that side. Hunks changed identically
// are taken once. Hunks changed differently, adjacent ones included,
// keep both versions with the earlier-sorting author first.
func Merge3(ancestor, local, remote, localAuthor, remoteAuthor string) MergeResult {
	o := splitLines(ancestor)
	a := splitLines(local)
	b := splitLines(remote)

	aMap := matchMap(o, a)
	bMap := matchMap(o, b)

	localFirst := localAuthor <= remoteAuthor

	var (
		out    []string
		result MergeResult
	)

	resolve := func(oc, ac, bc []string) {
		rows := max(len(oc), len(ac), len(bc))

		switch {
		case equal(ac, oc):
			out = append(out, bc...)
		case equal(bc, oc):
			out = append(out, ac...)
		case equal(ac, bc):
			out = append(out, ac...)
		default:
			result.Conflicts++
			result.ClashRows += rows
			if localFirst {
				out = append(append(out, ac...), bc...)
			} else {
				out = append(append(out, bc...), ac...)
			}
		}

		result.ChangedRows += rows
	}

	i, ja, jb := 0, 0, 0
	for i < len(o) {
		if aMap[i] == ja && bMap[i] == jb {
			out = append(out, o[i])
			i, ja, jb = i+1, ja+1, jb+1
			continue
		}

		k := i
		for k < len(o) && (aMap[k] < 0 || bMap[k] < 0) {
			k++
		}

		if k == len(o) {
			break
		}

		resolve(o[i:k], a[ja:aMap[k]], b[jb:bMap[k]])
		i, ja, jb = k, aMap[k], bMap[k]
	}

	if i < len(o) || ja < len(a) || jb < len(b) {
		resolve(o[i:], a[ja:], b[jb:])
	}

	result.Content = strings.Join(out, "")
	return result
}

// splits after each newline so joining restores the input exactly
func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

// maps each ancestor line to its matching line in other, or -1
func matchMap(o, other []string) []int {
	m := make([]int, len(o))
	for i := range m {
		m[i] = -1
	}

	matcher := difflib.NewMatcherWithJunk(o, other, false, nil)
	for _, block := range matcher.GetMatchingBlocks() {
		for k := 0; k < block.Size; k++ {
			m[block.A+k] = block.B + k
		}
	}

	return m
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
