package filewriter

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// masterDoc is the wire shape of one scan's master file: implementation-
// defined NeXus-style hierarchy per §6.4, expressed here as a flat
// document since this fabric does not depend on an HDF5 binding. The
// async-data section is lz4-compressed before being embedded, since it
// is the bulkiest and least latency-sensitive part of the document.
type masterDoc struct {
	ScanID         string                    `json:"scanID"`
	ScanSegments   map[int64]map[string]any  `json:"scan_segments"`
	Baseline       map[string]any            `json:"baseline,omitempty"`
	AsyncData      []byte                    `json:"async_data_lz4"`
	FileReferences map[string]map[string]any `json:"file_references,omitempty"`
	Metadata       map[string]any            `json:"metadata,omitempty"`
	StartTime      int64                     `json:"start_time"`
	EndTime        int64                     `json:"end_time"`
	NumPoints      int64                     `json:"num_points"`
}

func encodeMaster(st *ScanStorage) ([]byte, error) {
	asyncRaw, err := json.Marshal(st.AsyncData)
	if err != nil {
		return nil, err
	}
	compressed, err := compressLZ4(asyncRaw)
	if err != nil {
		return nil, err
	}
	doc := masterDoc{
		ScanID:         st.ScanID,
		ScanSegments:   st.ScanSegments,
		Baseline:       st.Baseline,
		AsyncData:      compressed,
		FileReferences: st.FileReferences,
		Metadata:       st.Metadata,
		StartTime:      st.StartTime.Unix(),
		EndTime:        st.EndTime.Unix(),
		NumPoints:      st.NumPoints,
	}
	return json.Marshal(doc)
}

func compressLZ4(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
