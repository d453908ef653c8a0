// Package api has type definitions for pcloud
//
// Converted from the API docs at https://docs.pcloud.com/
package api

import (
	"fmt"
	"time"
)

const (
	// TimeFormat is the layout pcloud uses for dates in responses
	// and for the "after" query parameter.
	//
	// Sun, 16 Mar 2014 17:26:04 +0000
	TimeFormat = time.RFC1123Z
	timeFormat = `"` + TimeFormat + `"`
)

// Time represents date and time information for the
// pcloud API, by using RFC1123Z
type Time time.Time

// MarshalJSON turns a Time into JSON (in UTC)
func (t *Time) MarshalJSON() (out []byte, err error) {
	timeString := (*time.Time)(t).UTC().Format(timeFormat)
	return []byte(timeString), nil
}

// UnmarshalJSON turns JSON into a Time
//
// null and "" leave the Time at its zero value as several optional
// fields (share expiry, link expiry) may be sent empty.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*t = Time{}
		return nil
	}
	newT, err := time.Parse(timeFormat, s)
	if err != nil {
		return err
	}
	*t = Time(newT)
	return nil
}

// IsZero reports whether t is unset
func (t Time) IsZero() bool {
	return time.Time(t).IsZero()
}

// String returns t in the pcloud wire format
func (t Time) String() string {
	return FormatTime(time.Time(t))
}

// FormatTime formats t the way pcloud expects it in query parameters
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

// Result codes returned in the "result" field of every response.
//
// See https://docs.pcloud.com/errors/
const (
	ResultOK                          = 0
	ResultLoginRequired               = 1000
	ResultNoFullPathOrNameOrFolderID  = 1001
	ResultNoFullPathOrFolderID        = 1002
	ResultNoFileIDOrPath              = 1004
	ResultDateTimeFormatNotUnderstood = 1013
	ResultNoDestination               = 1037
	ResultProvideURL                  = 1040
	ResultLoginFailed                 = 2000
	ResultInvalidName                 = 2001
	ResultParentDirectoryDoesNotExist = 2002
	ResultAccessDenied                = 2003
	ResultDirectoryDoesNotExist       = 2005
	ResultFolderNotEmpty              = 2006
	ResultCannotDeleteRootFolder      = 2007
	ResultUserOverQuota               = 2008
	ResultFileNotFound                = 2009
	ResultInvalidPath                 = 2010
	ResultVerifyMail                  = 2014
	ResultSharedFolderInSharedFolder  = 2023
	ResultCanOnlyShareOwnItems        = 2026
	ResultActiveShares                = 2028
	ResultConnectionBroken            = 2041
	ResultCannotRenameRootFolder      = 2042
	ResultCannotMoveFolderIntoItself  = 2043
	ResultTooManyLogins               = 4000
	ResultInternalError               = 5000
	ResultInternalUploadError         = 5001
)

var resultMessages = map[int]string{
	ResultOK:                          "Everything ok - no error",
	ResultLoginRequired:               "Log in required",
	ResultNoFullPathOrNameOrFolderID:  "No full path or name/folderid provided",
	ResultNoFullPathOrFolderID:        "No full path or folder id provided",
	ResultNoFileIDOrPath:              "No file id or file path provided",
	ResultDateTimeFormatNotUnderstood: "Date/time format not understood",
	ResultNoDestination:               "Please provide at least one of 'topath', 'tofolderid' or 'toname'",
	ResultProvideURL:                  "Provide URL",
	ResultLoginFailed:                 "Login failed",
	ResultInvalidName:                 "Invalid file/folder name",
	ResultParentDirectoryDoesNotExist: "A component of parent directory does not exist",
	ResultAccessDenied:                "Access denied",
	ResultDirectoryDoesNotExist:       "Directory does not exist",
	ResultFolderNotEmpty:              "Folder is not empty",
	ResultCannotDeleteRootFolder:      "Cannot delete the root folder",
	ResultUserOverQuota:               "User over quota",
	ResultFileNotFound:                "File not found",
	ResultInvalidPath:                 "Invalid path",
	ResultVerifyMail:                  "Please verify your mail address to perform this action",
	ResultSharedFolderInSharedFolder:  "You are trying to place shared folder into another shared folder",
	ResultCanOnlyShareOwnItems:        "You can only share your own files or folders",
	ResultActiveShares:                "There are active shares or sharerequests for this folder",
	ResultConnectionBroken:            "Connection broken",
	ResultCannotRenameRootFolder:      "Cannot rename the root folder",
	ResultCannotMoveFolderIntoItself:  "Cannot move a folder to a subfolder of itself",
	ResultTooManyLogins:               "Too many login tries from this IP address",
	ResultInternalError:               "Internal error",
	ResultInternalUploadError:         "Internal upload error",
}

// ResultMessage returns the documented message for a result code or
// "" if the code is unknown
func ResultMessage(result int) string {
	return resultMessages[result]
}

// Error is returned from pcloud when things go wrong
//
// If result is 0 then everything is OK
type Error struct {
	Result      int    `json:"result"`
	ErrorString string `json:"error"`
}

// Error returns a string for the error and satisfies the error interface
func (e *Error) Error() string {
	msg := e.ErrorString
	if msg == "" {
		msg = ResultMessage(e.Result)
	}
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("pcloud error: %s (%d)", msg, e.Result)
}

// Update returns err directly if it was != nil, otherwise it returns
// an Error or nil if no error was detected
func (e *Error) Update(err error) error {
	if err != nil {
		return err
	}
	if e.Result == ResultOK {
		return nil
	}
	return e
}

// Check Error satisfies the error interface
var _ error = (*Error)(nil)

// Item describes a folder or a file as returned by Get Folder Items and others
type Item struct {
	Path           string `json:"path"`
	Name           string `json:"name"`
	Created        Time   `json:"created"`
	IsMine         bool   `json:"ismine"`
	Thumb          bool   `json:"thumb"`
	Modified       Time   `json:"modified"`
	ID             string `json:"id"`
	IsShared       bool   `json:"isshared"`
	IsDeleted      bool   `json:"isdeleted"`
	Icon           string `json:"icon"`
	IsFolder       bool   `json:"isfolder"`
	ParentFolderID uint64 `json:"parentfolderid"`
	FolderID       uint64 `json:"folderid,omitempty"`
	FileID         uint64 `json:"fileid,omitempty"`
	DeletedFileID  uint64 `json:"deletedfileid,omitempty"`
	UserID         uint64 `json:"userid,omitempty"`
	CanRead        *bool  `json:"canread,omitempty"`
	CanModify      *bool  `json:"canmodify,omitempty"`
	CanDelete      *bool  `json:"candelete,omitempty"`
	CanCreate      *bool  `json:"cancreate,omitempty"`
	Height         int    `json:"height,omitempty"`
	Width          int    `json:"width,omitempty"`
	Hash           uint64 `json:"hash,omitempty"`
	Category       int    `json:"category,omitempty"`
	Size           int64  `json:"size,omitempty"`
	ContentType    string `json:"contenttype,omitempty"`
	Contents       []Item `json:"contents,omitempty"`
}

// ModTime returns the modification time of the item
func (i *Item) ModTime() (t time.Time) {
	t = time.Time(i.Modified)
	if t.IsZero() {
		t = time.Time(i.Created)
	}
	return t
}

// Share describes a share or share request attached to share events
//
// See https://docs.pcloud.com/structures/share.html
type Share struct {
	FolderID       uint64 `json:"folderid"`
	ShareRequestID uint64 `json:"sharerequestid,omitempty"`
	ShareID        uint64 `json:"shareid,omitempty"`
	ShareName      string `json:"sharename,omitempty"`
	Created        Time   `json:"created"`
	Expires        Time   `json:"expires"`
	CanRead        *bool  `json:"canread,omitempty"`
	CanModify      *bool  `json:"canmodify,omitempty"`
	CanDelete      *bool  `json:"candelete,omitempty"`
	CanCreate      *bool  `json:"cancreate,omitempty"`
	Message        string `json:"message,omitempty"`
}

// UserInfo is returned from /userinfo
type UserInfo struct {
	Error
	Email           string `json:"email"`
	EmailVerified   bool   `json:"emailverified"`
	UserID          uint64 `json:"userid"`
	Registered      Time   `json:"registered"`
	Language        string `json:"language"`
	Premium         bool   `json:"premium"`
	PremiumLifetime bool   `json:"premiumlifetime"`
	Business        bool   `json:"business"`
	Plan            int    `json:"plan"`
	Quota           int64  `json:"quota"`
	UsedQuota       int64  `json:"usedquota"`
}

// APIServers is returned from /getapiserver
type APIServers struct {
	Error
	BinAPI []string `json:"binapi"`
	API    []string `json:"api"`
}

// Logout is returned from /logout
type Logout struct {
	Error
	AuthDeleted bool `json:"auth_deleted"`
}
