package immich

// AssetID is the opaque identifier of an Immich asset
type AssetID string

// AlbumID is the opaque identifier of an Immich album
type AlbumID string

// APIError is the JSON error body the server returns on failures
type APIError struct {
	Message    string `json:"message"`
	ErrorName  string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// ExifInfo is the EXIF metadata of an asset.
//
// Fields are pointers as the server returns null for anything it
// couldn't extract.
type ExifInfo struct {
	Make             *string  `json:"make"`
	Model            *string  `json:"model"`
	ExifImageWidth   *float64 `json:"exifImageWidth"`
	ExifImageHeight  *float64 `json:"exifImageHeight"`
	DateTimeOriginal *string  `json:"dateTimeOriginal"`
	ModifyDate       *string  `json:"modifyDate"`
	FNumber          *float64 `json:"fNumber"`
	FocalLength      *float64 `json:"focalLength"`
	ISO              *float64 `json:"iso"`
	ExposureTime     *string  `json:"exposureTime"`
}

// Asset is a photo or video stored in the server
type Asset struct {
	ID               AssetID   `json:"id"`
	DeviceAssetID    string    `json:"deviceAssetId,omitempty"`
	OriginalFileName string    `json:"originalFileName"`
	Type             string    `json:"type,omitempty"` // IMAGE or VIDEO
	FileCreatedAt    string    `json:"fileCreatedAt,omitempty"`
	FileModifiedAt   string    `json:"fileModifiedAt,omitempty"`
	LocalDateTime    string    `json:"localDateTime,omitempty"`
	ExifInfo         *ExifInfo `json:"exifInfo,omitempty"`
}

// Album is a server side album
type Album struct {
	ID          AlbumID `json:"id"`
	AlbumName   string  `json:"albumName"`
	Description string  `json:"description,omitempty"`
	AssetCount  int     `json:"assetCount,omitempty"`
}

// CreateAlbumRequest is the body of POST /albums
type CreateAlbumRequest struct {
	AlbumName   string `json:"albumName"`
	Description string `json:"description,omitempty"`
}

// SearchMetadataRequest is the body of POST /search/metadata
type SearchMetadataRequest struct {
	OriginalFileName string `json:"originalFileName,omitempty"`
	WithExif         bool   `json:"withExif"`
	Page             int    `json:"page,omitempty"`
	Size             int    `json:"size,omitempty"`
}

// SearchMetadataResponse is the response of POST /search/metadata
type SearchMetadataResponse struct {
	Assets struct {
		Items    []Asset `json:"items"`
		Total    int     `json:"total"`
		NextPage *string `json:"nextPage"`
	} `json:"assets"`
}

// UploadResponse is the response of POST /assets.
//
// Status is "created" for a new asset or "duplicate" if the server
// already holds identical bytes, in which case ID is the existing
// asset.
type UploadResponse struct {
	ID     AssetID `json:"id"`
	Status string  `json:"status"`
}

// AddAssetsRequest is the body of PUT /albums/{id}/assets
type AddAssetsRequest struct {
	IDs []AssetID `json:"ids"`
}

// AddAssetsResponse is one element of the response of PUT /albums/{id}/assets
type AddAssetsResponse struct {
	ID      AssetID `json:"id"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
}
