package api

import (
	"encoding/json"
	"fmt"
)

// EventKind is the type of a change reported by /diff
//
// See https://docs.pcloud.com/structures/event.html
type EventKind string

// Event kinds reported by /diff
const (
	EventReset            EventKind = "reset"            // client should reset its state to an empty root
	EventCreateFolder     EventKind = "createfolder"     // metadata is provided
	EventDeleteFolder     EventKind = "deletefolder"     // metadata is provided
	EventModifyFolder     EventKind = "modifyfolder"     // metadata is provided
	EventCreateFile       EventKind = "createfile"       // metadata is provided
	EventModifyFile       EventKind = "modifyfile"       // metadata is provided
	EventDeleteFile       EventKind = "deletefile"       // metadata is provided
	EventRequestShareIn   EventKind = "requestsharein"   // share is provided
	EventAcceptedShareIn  EventKind = "acceptedsharein"  // share is provided
	EventDeclinedShareIn  EventKind = "declinedsharein"  // delivered to the declining user
	EventDeclinedShareOut EventKind = "declinedshareout" // delivered to the sharing user
	EventCancelledShareIn EventKind = "cancelledsharein" // sender cancelled the request
	EventRemovedShareIn   EventKind = "removedsharein"   // incoming share removed
	EventModifiedShareIn  EventKind = "modifiedsharein"  // permissions changed
	EventModifyUserInfo   EventKind = "modifyuserinfo"   // user's information is modified
)

// EventKinds lists every known EventKind
var EventKinds = []EventKind{
	EventReset,
	EventCreateFolder,
	EventDeleteFolder,
	EventModifyFolder,
	EventCreateFile,
	EventModifyFile,
	EventDeleteFile,
	EventRequestShareIn,
	EventAcceptedShareIn,
	EventDeclinedShareIn,
	EventDeclinedShareOut,
	EventCancelledShareIn,
	EventRemovedShareIn,
	EventModifiedShareIn,
	EventModifyUserInfo,
}

// Valid returns true if k is one of the documented event kinds
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseEventKind converts s into an EventKind
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// UnmarshalJSON only accepts documented event kinds
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsFolderEvent is true for folder create/modify/delete
func (k EventKind) IsFolderEvent() bool {
	switch k {
	case EventCreateFolder, EventModifyFolder, EventDeleteFolder:
		return true
	}
	return false
}

// IsFileEvent is true for file create/modify/delete
func (k EventKind) IsFileEvent() bool {
	switch k {
	case EventCreateFile, EventModifyFile, EventDeleteFile:
		return true
	}
	return false
}

// IsShareEvent is true for all share related events
func (k EventKind) IsShareEvent() bool {
	switch k {
	case EventRequestShareIn, EventAcceptedShareIn, EventDeclinedShareIn,
		EventDeclinedShareOut, EventCancelledShareIn, EventRemovedShareIn,
		EventModifiedShareIn:
		return true
	}
	return false
}

// DiffEntry is a single change on the account
//
// Set your stored diffid to DiffID after the entry is processed,
// preferably in the same transaction as the processing itself.
type DiffEntry struct {
	Time     Time      `json:"time"`
	DiffID   uint64    `json:"diffid"`
	Event    EventKind `json:"event"`
	Metadata *Item     `json:"metadata,omitempty"`
	Share    *Share    `json:"share,omitempty"`
}

// String describes the entry for logging
func (e *DiffEntry) String() string {
	if e.Metadata != nil {
		return fmt.Sprintf("%d %s %q", e.DiffID, e.Event, e.Metadata.Name)
	}
	if e.Share != nil {
		return fmt.Sprintf("%d %s folder %d", e.DiffID, e.Event, e.Share.FolderID)
	}
	return fmt.Sprintf("%d %s", e.DiffID, e.Event)
}

// Diff is returned from /diff
//
// DiffID is the id of the last event listed and is present even when
// Entries is empty. Pass it as diffid on the next call to resume.
type Diff struct {
	Error
	DiffID  uint64      `json:"diffid"`
	Entries []DiffEntry `json:"entries"`
}
