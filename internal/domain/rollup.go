package domain

// RollupRequest POST /admin/rollup/{hour,day} body. At is RFC3339 or YYYY-MM-DD; empty means now.
type RollupRequest struct {
	ShopDomain string `json:"shop_domain" binding:"required,max=255"`
	At         string `json:"at"`
}

// RollupResult 재집계 결과
type RollupResult struct {
	ShopDomain  string      `json:"shop_domain"`
	Granularity Granularity `json:"granularity"`
	BucketStart string      `json:"bucket_start"`
	Buckets     int         `json:"buckets"`
}

// CacheInvalidation DELETE /admin/cache response
type CacheInvalidation struct {
	Pattern string `json:"pattern"`
	Shop    string `json:"shop_domain,omitempty"`
	Removed int    `json:"removed"`
}
