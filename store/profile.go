package store

// ProfileEntry is one per-account profile setting. Values are opaque
// client-encrypted blobs. Entries carry the same lastModified CAS stamp
// as messages.
type ProfileEntry struct {
	Key          string `json:"key"`
	Value        []byte `json:"value"`
	LastModified uint64 `json:"lastModified"`
}

// ProfileMeta identifies a profile entry version after a mutation.
type ProfileMeta struct {
	Key          string `json:"key"`
	LastModified uint64 `json:"lastModified"`
}
