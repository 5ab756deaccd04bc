// Package postbox implements the server core of an end-to-end encrypted
// messaging system. Accounts are registered through a stateless
// challenge/response handshake, messages and profile entries are mutated
// under optimistic concurrency on a lastModified stamp, and all payloads
// are opaque ciphertext to the server.
//
// The service is storage-agnostic: implementations of store.Store back it
// with memory, PostgreSQL, or MongoDB, and attachment blobs can be
// off-loaded to S3 or GCS through store.AttachmentFileStore.
//
// Basic usage:
//
//	svc, err := postbox.NewService(
//	    postbox.WithStore(memory.New()),
//	    postbox.WithLocalDomain("example.net"),
//	)
//	if err != nil { ... }
//	if err := svc.Connect(ctx); err != nil { ... }
//	defer svc.Close(ctx)
//
//	box, err := svc.Authenticate(ctx, "alice#example.net", loginKey)
//	if err != nil { ... }
//	msgs, err := box.List(ctx, postbox.ListOptions{IncludeData: true})
package postbox
