package gonutstash

import "github.com/Keksclan/goNutStash/tier"

// Stats is the reporting snapshot returned by [Manager.Stats].
type Stats struct {
	Memory     tier.MemoryStats `json:"memory"`
	Persistent PersistentStats  `json:"persistent"`
}

// PersistentStats reports the durable tier.
type PersistentStats struct {
	ItemCount    int64            `json:"item_count"`
	MaxItems     int64            `json:"max_items"`
	SizeEstimate int64            `json:"size_estimate"`
	Recent       []tier.EntryInfo `json:"recent,omitempty"`
}
