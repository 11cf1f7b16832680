package models

// OverlayRequest represents a request to composite an overlay onto a remote image
type OverlayRequest struct {
	URL     string `json:"url" binding:"required"`
	AssetID string `json:"asset_id,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// AssetInfo describes one registry entry
type AssetInfo struct {
	ID              string `json:"id"`
	Group           string `json:"group,omitempty"`
	Orientation     string `json:"orientation"`
	ReferenceWidth  int    `json:"reference_width"`
	ReferenceHeight int    `json:"reference_height"`
}

// AssetsResponse lists the loaded overlay assets
type AssetsResponse struct {
	Assets []AssetInfo `json:"assets"`
	Groups []string    `json:"groups,omitempty"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Assets    int    `json:"assets"`
}
