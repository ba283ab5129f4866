// Package api provides types used by the Google Photos Library API.
package api

import (
	"fmt"
	"time"
)

// ItemID is the opaque identifier of a media item
type ItemID string

// AlbumID is the opaque identifier of an album
type AlbumID string

// ErrorDetails in the internals of the Error type
type ErrorDetails struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Error is returned on errors
type Error struct {
	Details ErrorDetails `json:"error"`
}

// Error satisfies error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Details.Message, e.Details.Code, e.Details.Status)
}

// SharedAlbumOptions are options for a shared album
type SharedAlbumOptions struct {
	IsCollaborative bool `json:"isCollaborative,omitempty"`
	IsCommentable   bool `json:"isCommentable,omitempty"`
}

// ShareInfo is set if an album is shared
type ShareInfo struct {
	SharedAlbumOptions SharedAlbumOptions `json:"sharedAlbumOptions,omitempty"`
	ShareableURL       string             `json:"shareableUrl,omitempty"`
	ShareToken         string             `json:"shareToken,omitempty"`
	IsJoined           bool               `json:"isJoined,omitempty"`
	IsOwned            bool               `json:"isOwned,omitempty"`
}

// Album of photos
type Album struct {
	ID                    AlbumID    `json:"id,omitempty"`
	Title                 string     `json:"title"`
	ProductURL            string     `json:"productUrl,omitempty"`
	MediaItemsCount       string     `json:"mediaItemsCount,omitempty"`
	CoverPhotoBaseURL     string     `json:"coverPhotoBaseUrl,omitempty"`
	CoverPhotoMediaItemID string     `json:"coverPhotoMediaItemId,omitempty"`
	IsWriteable           bool       `json:"isWriteable,omitempty"`
	ShareInfo             *ShareInfo `json:"shareInfo,omitempty"`
}

// ListAlbums is returned from albums.list and sharedAlbums.list
type ListAlbums struct {
	Albums        []Album `json:"albums"`
	SharedAlbums  []Album `json:"sharedAlbums"`
	NextPageToken string  `json:"nextPageToken"`
}

// ContributorInfo is set for items in shared albums uploaded by other users
type ContributorInfo struct {
	ProfilePictureBaseURL string `json:"profilePictureBaseUrl,omitempty"`
	DisplayName           string `json:"displayName,omitempty"`
}

// Photo metadata for a photo media item.
//
// The API omits fields it has no value for, hence the pointers on the
// numeric fields - absent and zero are different things.
type Photo struct {
	CameraMake      string   `json:"cameraMake,omitempty"`
	CameraModel     string   `json:"cameraModel,omitempty"`
	FocalLength     *float64 `json:"focalLength,omitempty"`
	ApertureFNumber *float64 `json:"apertureFNumber,omitempty"`
	ISOEquivalent   *int     `json:"isoEquivalent,omitempty"`
	ExposureTime    string   `json:"exposureTime,omitempty"`
}

// Video metadata for a video media item
type Video struct {
	CameraMake  string   `json:"cameraMake,omitempty"`
	CameraModel string   `json:"cameraModel,omitempty"`
	FPS         *float64 `json:"fps,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// MediaMetadata is metadata about a MediaItem.  Exactly one of Photo
// and Video is set.
type MediaMetadata struct {
	CreationTime time.Time `json:"creationTime"`
	Width        string    `json:"width"`
	Height       string    `json:"height"`
	Photo        *Photo    `json:"photo,omitempty"`
	Video        *Video    `json:"video,omitempty"`
}

// MediaItem is a photo or video in the library or an album
type MediaItem struct {
	ID              ItemID           `json:"id"`
	ProductURL      string           `json:"productUrl,omitempty"`
	BaseURL         string           `json:"baseUrl,omitempty"`
	MimeType        string           `json:"mimeType,omitempty"`
	MediaMetadata   *MediaMetadata   `json:"mediaMetadata,omitempty"`
	ContributorInfo *ContributorInfo `json:"contributorInfo,omitempty"`
	Filename        string           `json:"filename"`
}

// IsVideo is true if the item is a video and should be fetched with
// the video download suffix
func (m *MediaItem) IsVideo() bool {
	return m.MediaMetadata != nil && m.MediaMetadata.Video != nil
}

// MediaItems is returned from mediaItems.list and mediaItems.search
type MediaItems struct {
	MediaItems    []MediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

// SearchFilter is the request to mediaItems.search
type SearchFilter struct {
	AlbumID   AlbumID `json:"albumId,omitempty"`
	PageSize  int     `json:"pageSize"`
	PageToken string  `json:"pageToken,omitempty"`
}
