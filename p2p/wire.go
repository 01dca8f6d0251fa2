package p2p

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
)

// eotByte terminates every frame on the wire, grounded on
// original_source/tcoin/p2p/nodes/node_connection.py: EOT_CHAR.
const eotByte = 0x04

// EncodeFrame compresses v's JSON encoding with zlib, base64-encodes it,
// and appends the EOT delimiter, grounded on NodeConnection.compress.
func EncodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(compressed.Bytes())
	frame := make([]byte, 0, len(encoded)+1)
	frame = append(frame, encoded...)
	frame = append(frame, eotByte)
	return frame, nil
}

// DecodeFrame reverses EncodeFrame, expecting frame without its trailing
// EOT byte, and unmarshals the result into v.
func DecodeFrame(frame []byte, v interface{}) error {
	decoded, err := base64.StdEncoding.DecodeString(string(frame))
	if err != nil {
		return err
	}

	r, err := zlib.NewReader(bytes.NewReader(decoded))
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}
