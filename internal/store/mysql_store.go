package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/evyataryagoni/membermap/internal/models"
)

// MemberModel is the GORM model for the members table
type MemberModel struct {
	ID          string    `gorm:"column:id;type:char(36);primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Latitude    float64   `gorm:"column:latitude"`
	Longitude   float64   `gorm:"column:longitude"`
	Address     string    `gorm:"column:address"`
	Description string    `gorm:"column:description;type:text"`
	Poste       string    `gorm:"column:poste"`
	Ville       string    `gorm:"column:ville"`
	Pays        string    `gorm:"column:pays"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName pins the table name; GORM would otherwise use "member_models"
func (MemberModel) TableName() string {
	return "members"
}

func (r MemberModel) toMember() models.Member {
	return models.Member{
		ID:          r.ID,
		Name:        r.Name,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Address:     r.Address,
		Description: r.Description,
		Poste:       r.Poste,
		Ville:       r.Ville,
		Pays:        r.Pays,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func memberModelFrom(m models.Member) MemberModel {
	return MemberModel{
		ID:          m.ID,
		Name:        m.Name,
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		Address:     m.Address,
		Description: m.Description,
		Poste:       m.Poste,
		Ville:       m.Ville,
		Pays:        m.Pays,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// MySQLStore implements Store using MySQL through GORM
type MySQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMySQLStore connects to MySQL and migrates the members table
//
// dsn format: user:password@tcp(host:port)/dbname?parseTime=true
// parseTime=true is required for the timestamp columns
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), config)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect to MySQL")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, eris.Wrap(err, "store: get database instance")
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, eris.Wrap(err, "store: ping MySQL")
	}

	if err := db.AutoMigrate(&MemberModel{}); err != nil {
		return nil, eris.Wrap(err, "store: migrate members table")
	}

	return newMySQLStoreWithDB(db), nil
}

func newMySQLStoreWithDB(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// List runs SELECT * FROM members ORDER BY created_at DESC
func (s *MySQLStore) List(ctx context.Context) ([]models.Member, error) {
	var records []MemberModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, eris.Wrap(err, "store: list members")
	}

	members := make([]models.Member, 0, len(records))
	for _, r := range records {
		members = append(members, r.toMember())
	}
	return members, nil
}

// Get finds one member by primary key
func (s *MySQLStore) Get(ctx context.Context, id string) (*models.Member, error) {
	var record MemberModel
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(result.Error, "store: get member %s", id)
	}

	m := record.toMember()
	return &m, nil
}

// Create inserts a new row with a generated UUID
func (s *MySQLStore) Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error) {
	m := newMember(uuid.NewString(), draft, s.now)
	record := memberModelFrom(m)

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, eris.Wrap(err, "store: create member")
	}
	return &m, nil
}

// Update loads the row, writes the patched columns and returns the result
func (s *MySQLStore) Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	patch.Apply(&updated)
	updated.UpdatedAt = s.now().UTC()

	columns := map[string]interface{}{
		"name":        updated.Name,
		"latitude":    updated.Latitude,
		"longitude":   updated.Longitude,
		"address":     updated.Address,
		"description": updated.Description,
		"poste":       updated.Poste,
		"ville":       updated.Ville,
		"pays":        updated.Pays,
		"updated_at":  updated.UpdatedAt,
	}

	// RowsAffected is not checked: MySQL reports 0 when no value changed
	err = s.db.WithContext(ctx).Model(&MemberModel{}).Where("id = ?", id).Updates(columns).Error
	if err != nil {
		return nil, eris.Wrapf(err, "store: update member %s", id)
	}
	return &updated, nil
}

// Delete removes the row by primary key
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&MemberModel{})
	if result.Error != nil {
		return eris.Wrapf(result.Error, "store: delete member %s", id)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
