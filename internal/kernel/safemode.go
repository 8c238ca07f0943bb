package kernel

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/littlebox/littlebox/internal/settings"
)

// SafeMode is the minimal configuration channel that runs when persisted
// settings cannot be loaded. Nothing else is scheduled: the peer (a
// desktop configurator on the other end of the serial link) can ask for
// the current tree with GET and push a replacement as a single JSON
// line. A successfully stored document ends safe mode so the caller can
// boot again.
func (k *Kernel) SafeMode(r io.Reader, w io.Writer) error {
	fmt.Fprintln(w, "SAFE MODE: settings unavailable. Send GET or a JSON settings document.")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "GET" {
			data, err := k.store.Snapshot().MarshalJSON()
			if err != nil {
				fmt.Fprintf(w, "ERR %v\n", err)
				continue
			}
			fmt.Fprintln(w, string(data))
			continue
		}

		doc, err := settings.ParseJSON([]byte(line))
		if err != nil {
			fmt.Fprintf(w, "ERR invalid JSON: %v\n", err)
			continue
		}
		if err := k.store.Replace(doc); err != nil {
			fmt.Fprintf(w, "ERR %v\n", err)
			continue
		}
		fmt.Fprintln(w, "OK")
		return nil
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
