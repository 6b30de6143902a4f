//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the userauth
// store interfaces. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: accounts, keyed by user id
//   - UserUnique: one marker per unique attribute (username, email, phone
//     number, oauth link), keyed by "{field}:{value}" and pointing at the owner
//   - EmailVerification, PhoneVerification: pending challenges keyed by id
//   - VerificationOwner: one marker per (channel, user) pointing at the
//     pending challenge
//
// Markers are written in the same transaction as the entity they guard, so
// lookups by attribute are strongly consistent key reads rather than queries,
// and concurrent writers contend on the marker key.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "")  // default namespace
//	verifications := gae.NewVerificationStore(client, "tenant-123")
package gae
