package huggingface

import (
	"encoding/json"
	"sort"
)

const siFilename = "model.safetensors.index.json"

// safetensorsIndex stores the index of safe tensors.
type safetensorsIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// unmarshalSafetensorsIndex unmarshals a byte slice into a safetensorsIndex.
func unmarshalSafetensorsIndex(b []byte) (*safetensorsIndex, error) {
	var si safetensorsIndex
	err := json.Unmarshal(b, &si)
	if err != nil {
		return nil, err
	}
	return &si, nil
}

// shardFilenames returns the distinct shard files in the weight map, sorted.
func (si *safetensorsIndex) shardFilenames() []string {
	sfs := map[string]struct{}{}
	for _, fn := range si.WeightMap {
		sfs[fn] = struct{}{}
	}
	var fns []string
	for fn := range sfs {
		fns = append(fns, fn)
	}
	sort.Strings(fns)
	return fns
}
