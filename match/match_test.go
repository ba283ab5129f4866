package match

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gphotos2immich/gphotos2immich/gphotos/api"
	"github.com/gphotos2immich/gphotos2immich/immich"
)

func mustFromMediaItem(t *testing.T, jsonMetadata string) *ImageData {
	t.Helper()
	var m api.MediaMetadata
	require.NoError(t, json.Unmarshal([]byte(jsonMetadata), &m))
	data, err := FromMediaItem(&m)
	require.NoError(t, err)
	return data
}

func mustFromAsset(t *testing.T, jsonAsset string) *ImageData {
	t.Helper()
	var a immich.Asset
	require.NoError(t, json.Unmarshal([]byte(jsonAsset), &a))
	data, err := FromAsset(&a)
	require.NoError(t, err)
	return data
}

func TestFromAssetEmptyCameraString(t *testing.T) {
	i := mustFromAsset(t, `{
		"id": "c969cef6-8b30-4a64-8207-f65504a63782",
		"type": "IMAGE",
		"fileCreatedAt": "2024-07-08T18:03:51.000Z",
		"fileModifiedAt": "2024-07-08T18:03:31.000Z",
		"localDateTime": "2024-07-08T18:03:51.000Z",
		"originalFileName": "1720461810927.jpg",
		"exifInfo": {
			"exifImageWidth": 2160.0, "exifImageHeight": 3840.0,
			"dateTimeOriginal": "2024-07-08T18:03:51.000Z",
			"modifyDate": "2024-07-08T20:03:31.000Z",
			"make": "", "model": "",
			"fNumber": null, "focalLength": null, "iso": null, "exposureTime": null
		}
	}`)
	require.NotNil(t, i.Photo)
	assert.Nil(t, i.Photo.CameraMake)
	assert.Nil(t, i.Photo.CameraModel)
}

// Only one of the server's timestamps matches the creation time, which
// is enough.
func TestLaxTimeMatch(t *testing.T) {
	i := mustFromAsset(t, `{
		"id": "c969cef6-8b30-4a64-8207-f65504a63782",
		"type": "IMAGE",
		"fileCreatedAt": "2024-07-08T18:03:51.000Z",
		"fileModifiedAt": "2024-07-08T18:03:31.000Z",
		"localDateTime": "2024-07-08T18:03:51.000Z",
		"originalFileName": "1720461810927.jpg",
		"exifInfo": {
			"exifImageWidth": 2160.0, "exifImageHeight": 3840.0,
			"dateTimeOriginal": "2024-07-08T18:03:51.000Z",
			"modifyDate": "2024-07-08T20:03:31.000Z",
			"make": "", "model": ""
		}
	}`)
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-08T18:03:31Z","width":"2160","height":"3840","photo":{}}`)
	assert.True(t, Compare(g, i))
}

func TestSameVideo(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-06-30T17:52:38Z","width":"720","height":"1280","video":{"fps":30.0,"status":"READY"}}`)
	i := mustFromAsset(t, `{
		"id": "5297db68-2777-45a6-9ad5-82751da9f4a5",
		"type": "VIDEO",
		"fileCreatedAt": "2024-06-30T17:52:38.000Z",
		"fileModifiedAt": "2024-06-30T17:52:38.000Z",
		"localDateTime": "2024-06-30T19:52:38.000Z",
		"originalFileName": "20240630_195222.mp4",
		"exifInfo": {
			"exifImageWidth": 1280.0, "exifImageHeight": 720.0,
			"dateTimeOriginal": "2024-06-30T17:52:38.000Z",
			"modifyDate": "2024-06-30T17:52:38.000Z",
			"make": null, "model": null
		}
	}`)
	assert.True(t, Compare(g, i))
}

func TestFromMediaItemFullPhoto(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-08T17:16:59.437Z","width":"4624","height":"3468","photo":{"cameraMake":"samsung","cameraModel":"SM-A536B","focalLength":5.23,"apertureFNumber":1.8,"isoEquivalent":500,"exposureTime":"0.030303031s"}}`)
	require.NotNil(t, g.Photo)
	require.NotNil(t, g.Photo.ExposureTime)
	assert.InDelta(t, 0.030303031, *g.Photo.ExposureTime, 1e-9)
	assert.Equal(t, "samsung", *g.Photo.CameraMake)
	assert.Equal(t, 500, *g.Photo.ISOEquivalent)
}

func TestDifferent(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-06-29T21:57:43Z","width":"568","height":"320","video":{"fps":30.0,"status":"READY"}}`)
	i := mustFromAsset(t, `{
		"id": "93997389-06a9-4f25-9cac-c981af0dcaa6",
		"type": "VIDEO",
		"fileCreatedAt": "2023-05-28T14:54:38.000Z",
		"fileModifiedAt": "2023-05-28T14:54:38.000Z",
		"localDateTime": "2023-05-28T16:54:38.000Z",
		"originalFileName": "IMG_7065.mov",
		"exifInfo": {
			"exifImageWidth": 1920.0, "exifImageHeight": 1080.0,
			"dateTimeOriginal": "2023-05-28T14:54:38.000Z",
			"modifyDate": "2023-05-29T10:45:35.000Z",
			"make": "Apple", "model": "iPhone 13 Pro"
		}
	}`)
	assert.False(t, Compare(g, i))
}

// Google Photos transcodes videos so their dimensions can't be trusted
func TestVideoIgnoresHeightWidth(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-14T14:44:38Z","width":"1080","height":"1920","video":{"cameraMake":"Insta360","cameraModel":"One X2.VIDEO_NORMAL","fps":29.97002997002997,"status":"READY"}}`)
	i := mustFromAsset(t, `{
		"id": "2d06e4f8-6b18-4482-b826-c3042a6da0ad",
		"type": "VIDEO",
		"fileCreatedAt": "2024-07-14T14:45:00.000Z",
		"fileModifiedAt": "2024-07-14T14:44:38.000Z",
		"localDateTime": "2024-07-14T14:45:00.000Z",
		"originalFileName": "20240714_163840_461.mp4",
		"exifInfo": {
			"exifImageWidth": 1440.0, "exifImageHeight": 2560.0,
			"dateTimeOriginal": "2024-07-14T14:45:00.000Z",
			"modifyDate": "2024-07-14T14:44:38.000Z",
			"make": "Insta360", "model": "One X2.VIDEO_NORMAL"
		}
	}`)
	assert.True(t, Compare(g, i))
}

func TestCompareIsSymmetric(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-08T17:16:59Z","width":"4624","height":"3468","photo":{"cameraMake":"samsung","cameraModel":"SM-A536B","isoEquivalent":500}}`)
	i := mustFromAsset(t, `{
		"id": "x", "type": "IMAGE",
		"fileCreatedAt": "2024-07-08T17:16:59.000Z",
		"localDateTime": "2024-07-08T17:16:59.000Z",
		"originalFileName": "a.jpg",
		"exifInfo": {
			"exifImageWidth": 4624.0, "exifImageHeight": 3468.0,
			"make": "samsung", "model": "SM-A536B", "iso": 500.0
		}
	}`)
	assert.True(t, Compare(g, i))
	assert.True(t, Compare(i, g))
	assert.True(t, Compare(g, g))
}

// A missing timestamp on either side can never match
func TestNoTimesNoMatch(t *testing.T) {
	g := mustFromMediaItem(t, `{"width":"100","height":"100","photo":{}}`)
	i := mustFromAsset(t, `{"id": "x", "type": "IMAGE", "originalFileName": "a.jpg"}`)
	assert.False(t, Compare(g, i))
	assert.False(t, Compare(g, g))
}

// One side rotated: width and height are swapped but the media is the same
func TestOrientationFlip(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-08T17:16:59Z","width":"3468","height":"4624","photo":{}}`)
	i := mustFromAsset(t, `{
		"id": "x", "type": "IMAGE",
		"fileCreatedAt": "2024-07-08T17:16:59.000Z",
		"localDateTime": "2024-07-08T17:16:59.000Z",
		"originalFileName": "a.jpg",
		"exifInfo": {"exifImageWidth": 4624.0, "exifImageHeight": 3468.0}
	}`)
	assert.True(t, Compare(g, i))
}

func TestPhotoAgainstVideoNeverMatches(t *testing.T) {
	g := mustFromMediaItem(t, `{"creationTime":"2024-07-08T17:16:59Z","photo":{}}`)
	i := mustFromAsset(t, `{
		"id": "x", "type": "VIDEO",
		"fileCreatedAt": "2024-07-08T17:16:59.000Z",
		"localDateTime": "2024-07-08T17:16:59.000Z",
		"originalFileName": "a.mp4"
	}`)
	assert.False(t, Compare(g, i))
	assert.False(t, Compare(i, g))
}

func TestParseExposure(t *testing.T) {
	v, err := parseGooglePhotosExposure("0.030303031s")
	require.NoError(t, err)
	assert.InDelta(t, 0.030303031, v, 1e-9)

	v, err = parseImmichExposure("1/33")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/33.0, v, 1e-9)

	v, err = parseImmichExposure("0.03")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, v, 1e-9)

	_, err = parseImmichExposure("1/2/3")
	require.Error(t, err)
}

// Exposure times from the two sides are numerically close but not
// equal; the comparison must tolerate that.
func TestExposureTolerance(t *testing.T) {
	mk := func(exposure float64) *ImageData {
		return &ImageData{
			AllTimes: []time.Time{time.Date(2024, 7, 8, 17, 16, 59, 0, time.UTC)},
			Photo:    &PhotoMetadata{ExposureTime: &exposure},
		}
	}
	assert.True(t, Compare(mk(0.030303031), mk(1.0/33.0)))
	assert.False(t, Compare(mk(0.030303031), mk(0.05)))
}
