// Package objects holds the participant-local object table and the contract
// every managed class implements.
package objects
