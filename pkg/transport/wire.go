package transport

import (
	"encoding/json"
	"fmt"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// Wire payload shapes for the streaming frame protocol, mirroring the
// JSON bodies of pkg/remote/client.go's HTTP endpoints (refs map,
// wants/haves batch request, ndjson-style object list, ref-update
// list) but carried over frame.go's binary envelopes instead of HTTP.

type listRefsResp struct {
	Refs map[string]objhash.Hash `json:"refs"`
}

type fetchReq struct {
	Wants []objhash.Hash `json:"wants"`
}

type wireObject struct {
	Hash objhash.Hash `json:"hash"`
	Kind objhash.Kind `json:"kind"`
	Data []byte       `json:"data"`
}

type fetchResp struct {
	Objects []wireObject `json:"objects"`
}

type wireRefUpdate struct {
	Name string       `json:"name"`
	Old  objhash.Hash `json:"old"`
	New  objhash.Hash `json:"new"`
}

type pushReq struct {
	Objects []wireObject    `json:"objects"`
	Updates []wireRefUpdate `json:"updates"`
}

type pushResp struct{}

type errorResp struct {
	Message string `json:"message"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every payload type here is a plain struct of hashes, strings
		// and byte slices; Marshal only fails on unsupported types,
		// which would be a programming error, not a runtime condition.
		panic(fmt.Sprintf("transport: encode: %v", err))
	}
	return b
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transport: decode: %w", err)
	}
	return nil
}

func toWireObjects(objects []Object) []wireObject {
	out := make([]wireObject, len(objects))
	for i, o := range objects {
		out[i] = wireObject{Hash: o.Hash, Kind: o.Kind, Data: o.Data}
	}
	return out
}

func fromWireObjects(objects []wireObject) []Object {
	out := make([]Object, len(objects))
	for i, o := range objects {
		out[i] = Object{Hash: o.Hash, Kind: o.Kind, Data: o.Data}
	}
	return out
}

func toWireUpdates(updates []RefUpdate) []wireRefUpdate {
	out := make([]wireRefUpdate, len(updates))
	for i, u := range updates {
		out[i] = wireRefUpdate{Name: u.Name, Old: u.Old, New: u.New}
	}
	return out
}
