// Package auth protects the local bridge API with a shared API key.
//
// Keys are never stored. The configuration holds an Argon2id hash in PHC
// string format ($argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>), produced
// by `anthem hash-key`. A Verifier checks bearer keys against that hash and
// remembers the digest of the last key it accepted so repeat requests skip
// the Argon2id derivation.
package auth
