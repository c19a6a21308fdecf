// Package password implements one-way password hashing for carelink.
//
// Hashes are Argon2id in the standard encoded form
// ($argon2id$v=19$m=...,t=...,p=...$salt$key) with a random per-call salt,
// so two hashes of the same password differ yet both verify.
// Verification is constant-time and bounds the parameters embedded in a
// hash string so attacker-supplied hashes cannot drive pathological cost.
package password
