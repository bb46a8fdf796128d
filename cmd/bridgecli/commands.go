package main

import (
	"bytes"
	"encoding/json"
	"os"
)

// printRespJSON pretty-prints resp, one of bridgerpc's plain JSON-tagged
// structs, the way the teacher's printRespJson does for its protobuf
// responses.
func printRespJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "    "); err != nil {
		fatal(err)
	}
	out.WriteTo(os.Stdout)
	os.Stdout.Write([]byte("\n"))
}
