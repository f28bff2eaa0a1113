package app

import (
	"github.com/roach88/assetdb/internal/asset"
	"github.com/roach88/assetdb/internal/objstore"
)

// Message is anything that travels through the controller queue: requests
// sent in by callers and results produced by the pipeline.
type Message interface {
	message()
}

// Request is a message a caller may Send.
type Request interface {
	Message
	request()
}

// OpenRequest asks the controller to open (and upgrade) the database.
type OpenRequest struct{}

// ReadRequest asks for a fresh bundle of every stored asset.
type ReadRequest struct{}

// StoreRequest asks to store Record in Store. An empty Store means styles.
type StoreRequest struct {
	Store  string
	Record asset.Record
}

// DatabaseReady reports a successful open.
type DatabaseReady struct {
	Name    string
	Version int
	Schema  objstore.Schema

	db objstore.Database
}

// OpenFailed reports that the database could not be opened.
type OpenFailed struct{ Err error }

// AssetsReady carries a new bundle. The controller owns it and releases it
// when the next bundle arrives or the controller shuts down.
type AssetsReady struct{ Bundle *asset.Bundle }

// ReadFailed reports that a read could not complete.
type ReadFailed struct{ Err error }

// Stored reports a newly inserted record.
type Stored struct {
	Store string
	Name  string
}

// AlreadyPresent reports an insert that matched an existing record.
type AlreadyPresent struct {
	Store string
	Name  string
}

// StoreFailed reports an insert that did not commit.
type StoreFailed struct {
	Store string
	Name  string
	Err   error
}

func (OpenRequest) message()    {}
func (ReadRequest) message()    {}
func (StoreRequest) message()   {}
func (DatabaseReady) message()  {}
func (OpenFailed) message()     {}
func (AssetsReady) message()    {}
func (ReadFailed) message()     {}
func (Stored) message()         {}
func (AlreadyPresent) message() {}
func (StoreFailed) message()    {}

func (OpenRequest) request()  {}
func (ReadRequest) request()  {}
func (StoreRequest) request() {}
