// Package dump renders a hex+ASCII dump of a byte slice, in the classic
// 16-octets-per-line "offset | hex | ascii" layout, for the inspector's
// record value/property display.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const octetsPerLine = 16

// Fdump writes data to w as a hex+ASCII dump, with each line's leading
// offset starting at baseOffset.
func Fdump(w io.Writer, baseOffset int64, data []byte) error {
	bw := bufio.NewWriter(w)

	for n := 0; n < len(data); n += octetsPerLine {
		if _, err := fmt.Fprintf(bw, "%012X|", baseOffset+int64(n)); err != nil {
			return err
		}

		end := n + octetsPerLine
		if end > len(data) {
			end = len(data)
		}

		for i := n; i < n+octetsPerLine; i++ {
			if i < end {
				if _, err := fmt.Fprintf(bw, "%02X", data[i]); err != nil {
					return err
				}
			} else if _, err := bw.WriteString("  "); err != nil {
				return err
			}
			if i < n+octetsPerLine-1 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
		}

		if err := bw.WriteByte('|'); err != nil {
			return err
		}

		for i := n; i < end; i++ {
			c := data[i]
			if !isPrint(c) {
				c = '.'
			}
			if err := bw.WriteByte(c); err != nil {
				return err
			}
		}

		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func isPrint(c byte) bool {
	return c >= 0x20 && c < 0x7f
}

// Sdump is Fdump rendered to a string, for callers (tests, REPL output)
// that don't already have an io.Writer at hand.
func Sdump(baseOffset int64, data []byte) string {
	var b strings.Builder
	_ = Fdump(&b, baseOffset, data)
	return b.String()
}
