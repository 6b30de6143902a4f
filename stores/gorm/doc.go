//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the userauth store interfaces.
// It is written against PostgreSQL through gorm.io/driver/postgres but only relies
// on unique indexes, so any database GORM supports can back it.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: accounts, with unique indexes on username, email, phone_number
//     and (oauth_provider, oauth_provider_id)
//   - email_verifications: pending email challenges, unique on user_id
//   - phone_verifications: pending SMS challenges, unique on user_id
//
// Email, phone number and OAuth columns are NULL when unset so the unique
// indexes only constrain accounts that have them.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
//	verificationStore := gormstore.NewVerificationStore(db)
package gorm
