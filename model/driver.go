package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// License 駕照資料
type License struct {
	ID            string     `json:"id,omitempty" bson:"id,omitempty" doc:"駕照號碼"`
	FrontImageURL string     `json:"front_image_url,omitempty" bson:"front_image_url,omitempty" doc:"駕照正面"`
	BackImageURL  string     `json:"back_image_url,omitempty" bson:"back_image_url,omitempty" doc:"駕照背面"`
	Validity      *time.Time `json:"validity,omitempty" bson:"validity,omitempty" doc:"駕照有效期限"`
}

// VehicleDetails 車輛與車輛文件資料
type VehicleDetails struct {
	VehicleNumber       string     `json:"vehicle_number,omitempty" bson:"vehicle_number,omitempty" example:"KL07AB1234" doc:"車牌號碼"`
	VehicleColor        string     `json:"vehicle_color,omitempty" bson:"vehicle_color,omitempty" doc:"車輛顏色"`
	Model               string     `json:"model,omitempty" bson:"model,omitempty" example:"Toyota Prius" doc:"車型"`
	RCStartDate         *time.Time `json:"rc_start_date,omitempty" bson:"rc_start_date,omitempty" doc:"行照起始日"`
	RCExpiryDate        *time.Time `json:"rc_expiry_date,omitempty" bson:"rc_expiry_date,omitempty" doc:"行照到期日"`
	InsuranceStartDate  *time.Time `json:"insurance_start_date,omitempty" bson:"insurance_start_date,omitempty" doc:"保險起始日"`
	InsuranceExpiryDate *time.Time `json:"insurance_expiry_date,omitempty" bson:"insurance_expiry_date,omitempty" doc:"保險到期日"`
	PollutionStartDate  *time.Time `json:"pollution_start_date,omitempty" bson:"pollution_start_date,omitempty" doc:"排氣檢驗起始日"`
	PollutionExpiryDate *time.Time `json:"pollution_expiry_date,omitempty" bson:"pollution_expiry_date,omitempty" doc:"排氣檢驗到期日"`
}

// Driver 司機主檔，狀態的唯一可信來源
type Driver struct {
	ID                       primitive.ObjectID   `json:"_id,omitempty" bson:"_id,omitempty" example:"684a73ad0e3a583c37e4b30d" doc:"司機ID"`
	Mobile                   string               `json:"mobile" bson:"mobile" example:"0912345678" doc:"手機號碼"`
	Name                     string               `json:"name" bson:"name" example:"王小明" doc:"司機本名"`
	Email                    string               `json:"email,omitempty" bson:"email,omitempty" doc:"電子郵件"`
	DriverImage              string               `json:"driver_image,omitempty" bson:"driver_image,omitempty" doc:"司機照片"`
	License                  License              `json:"license" bson:"license" doc:"駕照"`
	VehicleDetails           VehicleDetails       `json:"vehicle_details" bson:"vehicle_details" doc:"車輛資料"`
	OnlineStatus             bool                 `json:"online_status" bson:"online_status" doc:"是否在線"`
	IsAvailable              bool                 `json:"is_available" bson:"is_available" doc:"是否可派單"`
	OnboardingComplete       bool                 `json:"onboarding_complete" bson:"onboarding_complete" doc:"金流帳戶是否完成開通"`
	AdminCommission          int64                `json:"admin_commission" bson:"admin_commission" example:"0" doc:"未繳平台抽成（最小貨幣單位）"`
	TotalRatings             float64              `json:"total_ratings" bson:"total_ratings" doc:"評分"`
	TotalCompletedRides      int64                `json:"total_completed_rides" bson:"total_completed_rides" doc:"累計完成趟數"`
	TotalCancelledRides      int64                `json:"total_cancelled_rides" bson:"total_cancelled_rides" doc:"累計取消趟數"`
	LastExpiryNotificationAt *time.Time           `json:"last_expiry_notification_at,omitempty" bson:"last_expiry_notification_at,omitempty" doc:"最後一次文件到期通知時間"`
	LastExpiryNotifiedFor    map[string]time.Time `json:"last_expiry_notified_for,omitempty" bson:"last_expiry_notified_for,omitempty" doc:"各文件最後通知時間"`
	CreatedAt                time.Time            `json:"created_at" bson:"created_at" doc:"建立時間"`
	UpdatedAt                time.Time            `json:"updated_at" bson:"updated_at" doc:"更新時間"`
}

// DocumentExpiry 單一文件的到期日
type DocumentExpiry struct {
	Type      DocumentType
	ExpiresAt time.Time
}

// DocumentExpiries 依固定順序回傳有設定到期日的文件
func (d *Driver) DocumentExpiries() []DocumentExpiry {
	candidates := []struct {
		docType DocumentType
		at      *time.Time
	}{
		{DocumentTypeLicense, d.License.Validity},
		{DocumentTypeRC, d.VehicleDetails.RCExpiryDate},
		{DocumentTypeInsurance, d.VehicleDetails.InsuranceExpiryDate},
		{DocumentTypePollution, d.VehicleDetails.PollutionExpiryDate},
	}

	var out []DocumentExpiry
	for _, c := range candidates {
		if c.at == nil || c.at.IsZero() {
			continue
		}
		out = append(out, DocumentExpiry{Type: c.docType, ExpiresAt: *c.at})
	}
	return out
}

// ExpiredDocuments 回傳到期日不在 now 之後的文件
func (d *Driver) ExpiredDocuments(now time.Time) []DocumentType {
	var expired []DocumentType
	for _, doc := range d.DocumentExpiries() {
		if !doc.ExpiresAt.After(now) {
			expired = append(expired, doc.Type)
		}
	}
	return expired
}

// HexID 回傳字串形式的司機ID
func (d *Driver) HexID() string {
	return d.ID.Hex()
}

// DriverCounterField 司機主檔上可累加的欄位
type DriverCounterField string

const (
	DriverCounterCompletedRides  DriverCounterField = "total_completed_rides"
	DriverCounterCancelledRides  DriverCounterField = "total_cancelled_rides"
	DriverCounterAdminCommission DriverCounterField = "admin_commission"
)

// DriverCounterIncrement 司機主檔的累加描述
type DriverCounterIncrement map[DriverCounterField]int64
