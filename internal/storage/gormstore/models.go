package gormstore

// lookupEntry backs GormLookupStore, the gorm-backed module.LookupStore.
// expiresAtUnix == 0 means no expiry, mirroring the in-memory store's
// zero-Time sentinel.
type lookupEntry struct {
	Key           string `gorm:"primaryKey"`
	Value         []byte
	ExpiresAtUnix int64
}

func (lookupEntry) TableName() string { return "kernel_lookup_entries" }

// dataEntry backs GormDataStore, the gorm-backed module.DataStore.
type dataEntry struct {
	Key   string `gorm:"primaryKey"`
	Value []byte
}

func (dataEntry) TableName() string { return "kernel_data_entries" }

// blobEntry backs GormBlobStore, the gorm-backed module.BlobStore.
type blobEntry struct {
	Hash string `gorm:"primaryKey"` // hex-encoded sha256
	Data []byte
}

func (blobEntry) TableName() string { return "kernel_blob_entries" }

// accountEntry backs GormDirectory, the gorm-backed module.Directory.
type accountEntry struct {
	ID         uint32 `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"uniqueIndex"`
	Type       int
	SecretHash string
	MemberOf   string // comma-joined, empty when return_member_of is never requested
}

func (accountEntry) TableName() string { return "kernel_accounts" }
