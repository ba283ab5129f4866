// Package match decides whether a Google Photos media item and an
// Immich asset describe the same underlying photo or video.
//
// Both sides are first normalized into an ImageData, then compared
// field by field.  The comparison is deliberately lenient: it only
// reports a mismatch when both sides carry a value and the values
// disagree, since either side may have lost metadata on the way in.
package match

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
)

// PhotoMetadata is the camera metadata of a photo
type PhotoMetadata struct {
	CameraMake      *string
	CameraModel     *string
	FocalLength     *float64
	ApertureFNumber *float64
	ISOEquivalent   *int
	ExposureTime    *float64 // seconds
}

// VideoMetadata is the camera metadata of a video
type VideoMetadata struct {
	CameraMake  *string
	CameraModel *string
}

// ImageData is the normalized metadata of a photo or video.
//
// Immich carries several timestamps while Google Photos has only one,
// so all known times are collected and any single match counts.
// Exactly one of Photo and Video is set for well-formed input.
type ImageData struct {
	AllTimes []time.Time
	Width    *float64
	Height   *float64
	Photo    *PhotoMetadata
	Video    *VideoMetadata
}

// parseGooglePhotosExposure parses an exposure time like "0.030303031s"
// into seconds.
func parseGooglePhotosExposure(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, fmt.Errorf("tried converting %q to float: %w", s, err)
	}
	return v, nil
}

// parseImmichExposure parses an exposure time like "1/33" or "0.03"
// into seconds.
func parseImmichExposure(s string) (float64, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, fmt.Errorf("bad exposure time %q: %w", s, err)
		}
		return v, nil
	case 2:
		num, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, fmt.Errorf("bad exposure time %q: %w", s, err)
		}
		den, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, fmt.Errorf("bad exposure time %q: %w", s, err)
		}
		return num / den, nil
	}
	return 0, fmt.Errorf("strange input for exposure time: %q", s)
}

// FromMediaItem normalizes the metadata of a Google Photos media item
func FromMediaItem(m *api.MediaMetadata) (*ImageData, error) {
	data := &ImageData{}
	if !m.CreationTime.IsZero() {
		data.AllTimes = append(data.AllTimes, m.CreationTime)
	}
	if m.Width != "" {
		w, err := strconv.ParseFloat(m.Width, 64)
		if err != nil {
			return nil, fmt.Errorf("bad width %q: %w", m.Width, err)
		}
		data.Width = &w
	}
	if m.Height != "" {
		h, err := strconv.ParseFloat(m.Height, 64)
		if err != nil {
			return nil, fmt.Errorf("bad height %q: %w", m.Height, err)
		}
		data.Height = &h
	}
	if m.Photo != nil {
		photo := &PhotoMetadata{
			FocalLength:     m.Photo.FocalLength,
			ApertureFNumber: m.Photo.ApertureFNumber,
			ISOEquivalent:   m.Photo.ISOEquivalent,
		}
		if m.Photo.CameraMake != "" {
			photo.CameraMake = ptr(m.Photo.CameraMake)
		}
		if m.Photo.CameraModel != "" {
			photo.CameraModel = ptr(m.Photo.CameraModel)
		}
		if m.Photo.ExposureTime != "" {
			exposure, err := parseGooglePhotosExposure(m.Photo.ExposureTime)
			if err != nil {
				return nil, err
			}
			photo.ExposureTime = &exposure
		}
		data.Photo = photo
	}
	if m.Video != nil {
		video := &VideoMetadata{}
		if m.Video.CameraMake != "" {
			video.CameraMake = ptr(m.Video.CameraMake)
		}
		if m.Video.CameraModel != "" {
			video.CameraModel = ptr(m.Video.CameraModel)
		}
		data.Video = video
	}
	return data, nil
}

// FromAsset normalizes the metadata of an Immich asset
func FromAsset(a *immich.Asset) (*ImageData, error) {
	data := &ImageData{}

	times := []string{a.FileCreatedAt, a.FileModifiedAt, a.LocalDateTime}
	var exif *immich.ExifInfo
	if a.ExifInfo != nil {
		exif = a.ExifInfo
		if exif.DateTimeOriginal != nil {
			times = append(times, *exif.DateTimeOriginal)
		}
		if exif.ModifyDate != nil {
			times = append(times, *exif.ModifyDate)
		}
	}
	for _, s := range times {
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q on asset %s: %w", s, a.ID, err)
		}
		data.AllTimes = appendTime(data.AllTimes, t)
	}

	if exif != nil {
		data.Width = exif.ExifImageWidth
		data.Height = exif.ExifImageHeight
	}

	switch a.Type {
	case "IMAGE":
		photo := &PhotoMetadata{}
		if exif != nil {
			// an empty camera string means the server found nothing
			if exif.Make != nil && *exif.Make != "" {
				photo.CameraMake = exif.Make
			}
			if exif.Model != nil && *exif.Model != "" {
				photo.CameraModel = exif.Model
			}
			photo.ApertureFNumber = exif.FNumber
			photo.FocalLength = exif.FocalLength
			if exif.ISO != nil {
				iso := int(*exif.ISO)
				photo.ISOEquivalent = &iso
			}
			if exif.ExposureTime != nil {
				exposure, err := parseImmichExposure(*exif.ExposureTime)
				if err != nil {
					return nil, err
				}
				photo.ExposureTime = &exposure
			}
		}
		data.Photo = photo
	case "VIDEO":
		video := &VideoMetadata{}
		if exif != nil {
			video.CameraMake = exif.Make
			video.CameraModel = exif.Model
		}
		data.Video = video
	}
	return data, nil
}

func ptr[T any](v T) *T {
	return &v
}

// appendTime appends t unless an equal instant is already present
func appendTime(times []time.Time, t time.Time) []time.Time {
	for _, have := range times {
		if have.Equal(t) {
			return times
		}
	}
	return append(times, t)
}

// differs reports a confident mismatch: a has a value and b either
// has no value or a different one.
func differs[T comparable](a, b *T) bool {
	return a != nil && (b == nil || *a != *b)
}

// differsFloat reports a confident mismatch of two float values,
// allowing for small rounding differences.
func differsFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return false
	}
	d := *a - *b
	return d > 1e-2 || d < -1e-2
}

// timesIntersect reports whether any time of a equals any time of b
func timesIntersect(a, b []time.Time) bool {
	for _, ta := range a {
		for _, tb := range b {
			if ta.Equal(tb) {
				return true
			}
		}
	}
	return false
}

// landscape returns width and height with the larger value first.
// Both services like to flip the two depending on EXIF orientation.
func landscape(w, h *float64) (*float64, *float64) {
	if w == nil && h != nil {
		return h, w
	}
	if w != nil && h != nil && *w < *h {
		return h, w
	}
	return w, h
}

// Compare returns false when there is good confidence the two sides
// describe different media.  True means no disagreement was found,
// which includes the case of one side simply missing metadata.
func Compare(a, b *ImageData) bool {
	if !timesIntersect(a.AllTimes, b.AllTimes) {
		return false
	}

	if (a.Photo != nil) != (b.Photo != nil) {
		return false
	}
	if a.Photo != nil {
		// Google Photos transcodes videos, so dimensions are only
		// meaningful on photos.
		aw, ah := landscape(a.Width, a.Height)
		bw, bh := landscape(b.Width, b.Height)
		if differs(aw, bw) || differs(ah, bh) {
			return false
		}
		if differs(a.Photo.CameraMake, b.Photo.CameraMake) {
			return false
		}
		if differs(a.Photo.CameraModel, b.Photo.CameraModel) {
			return false
		}
		if differs(a.Photo.ISOEquivalent, b.Photo.ISOEquivalent) {
			return false
		}
		if differsFloat(a.Photo.FocalLength, b.Photo.FocalLength) {
			return false
		}
		if differsFloat(a.Photo.ApertureFNumber, b.Photo.ApertureFNumber) {
			return false
		}
		if differsFloat(a.Photo.ExposureTime, b.Photo.ExposureTime) {
			return false
		}
	}

	if a.Video != nil {
		if b.Video == nil {
			return false
		}
		if differs(a.Video.CameraMake, b.Video.CameraMake) {
			return false
		}
		if differs(a.Video.CameraModel, b.Video.CameraModel) {
			return false
		}
	}

	return true
}
