package config

// This file configures the certificate blob store (an S3-compatible
// object store, typically minio in development) and the limits applied
// to incoming certificate uploads.

// StorageConfig holds connection settings for the object store that
// keeps the raw certificate PDFs.  Endpoint may point at any
// S3-compatible server.  Credentials are read as static access keys.
type StorageConfig struct {
    Endpoint  string // base endpoint, e.g. http://localhost:9000
    Region    string // region passed to the S3 client
    Bucket    string // bucket holding certificate objects
    AccessKey string // access key id (MINIO_ROOT_USER in dev)
    SecretKey string // secret access key
}

// LoadStorageConfig reads the blob-store settings.  All values are
// required: the upload pipeline cannot run without somewhere to put
// the certificate bytes.
func LoadStorageConfig() StorageConfig {
    return StorageConfig{
        Endpoint:  must("S3_ENDPOINT"),
        Region:    envStr("S3_REGION", "us-east-1"),
        Bucket:    must("S3_BUCKET"),
        AccessKey: must("S3_ACCESS_KEY"),
        SecretKey: must("S3_SECRET_KEY"),
    }
}

// UploadConfig bounds what the upload endpoint accepts.
type UploadConfig struct {
    MaxSizeBytes int64 // reject certificates larger than this
}

// LoadUploadConfig reads the upload ceiling.  Defaults to 5 MB, the
// limit the certificate registry portals themselves enforce.
func LoadUploadConfig() UploadConfig {
    return UploadConfig{
        MaxSizeBytes: int64(envInt("UPLOAD_MAX_BYTES", 5*1024*1024)),
    }
}
