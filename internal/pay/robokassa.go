package pay

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	RobokassaName           = "robokassa"
	defaultRobokassaBaseURL = "https://auth.robokassa.kz/Merchant/Index.aspx"
	robokassaOrderParam     = "Shp_order"
)

type RobokassaConfig struct {
	MerchantLogin string
	Password1     string
	Password2     string
	TestPassword1 string
	TestPassword2 string
	BaseURL       string
	IsTest        bool
}

// Robokassa builds signed checkout links. The gateway calls the result URL only for
// successful payments, signed with password #2.
type Robokassa struct {
	cfg RobokassaConfig
}

func NewRobokassa(cfg RobokassaConfig) (*Robokassa, error) {
	if cfg.MerchantLogin == "" || cfg.Password1 == "" || cfg.Password2 == "" {
		return nil, errors.New("robokassa: merchant login and both passwords are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRobokassaBaseURL
	}
	return &Robokassa{cfg: cfg}, nil
}

func (r *Robokassa) Name() string { return RobokassaName }

func (r *Robokassa) pass1() string {
	if r.cfg.IsTest && r.cfg.TestPassword1 != "" {
		return r.cfg.TestPassword1
	}
	return r.cfg.Password1
}

func (r *Robokassa) pass2(isTest bool) string {
	if isTest && r.cfg.TestPassword2 != "" {
		return r.cfg.TestPassword2
	}
	return r.cfg.Password2
}

// md5Upper hashes the colon joined parts. Shp_ parameters go last, sorted by name.
func md5Upper(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CreatePayment needs no network call: the checkout link is signed locally. InvId is the
// ledger row id, and the order id travels in a Shp_ parameter the gateway echoes back.
func (r *Robokassa) CreatePayment(_ context.Context, req CreateRequest) (CreateResult, error) {
	if req.OrderID <= 0 || req.PaymentID <= 0 {
		return CreateResult{}, errors.New("robokassa: order and payment ids are required")
	}
	outSum := req.Amount.StringFixed(2)
	invID := strconv.FormatInt(req.PaymentID, 10)
	shp := robokassaOrderParam + "=" + strconv.FormatInt(req.OrderID, 10)

	params := url.Values{}
	params.Set("MerchantLogin", r.cfg.MerchantLogin)
	params.Set("OutSum", outSum)
	params.Set("InvId", invID)
	params.Set("Description", req.Description)
	params.Set(robokassaOrderParam, strconv.FormatInt(req.OrderID, 10))
	params.Set("SignatureValue", md5Upper(r.cfg.MerchantLogin, outSum, invID, r.pass1(), shp))
	if req.Customer.Email != "" {
		params.Set("Email", req.Customer.Email)
	}
	if r.cfg.IsTest {
		params.Set("IsTest", "1")
	}

	return CreateResult{
		RedirectURL:   r.cfg.BaseURL + "?" + params.Encode(),
		TransactionID: invID,
		Metadata:      map[string]string{"inv_id": invID, "out_sum": outSum},
	}, nil
}

type robokassaResult struct {
	OutSum    string
	InvID     string
	Signature string
	OrderID   string
	IsTest    bool
}

func parseRobokassaResult(payload []byte) (robokassaResult, error) {
	q, err := url.ParseQuery(strings.TrimSpace(string(payload)))
	if err != nil {
		return robokassaResult{}, fmt.Errorf("robokassa: decode result: %w", err)
	}
	return robokassaResult{
		OutSum:    q.Get("OutSum"),
		InvID:     q.Get("InvId"),
		Signature: q.Get("SignatureValue"),
		OrderID:   q.Get(robokassaOrderParam),
		IsTest:    q.Get("IsTest") == "1",
	}, nil
}

func (r *Robokassa) VerifyWebhook(payload []byte, _ http.Header) bool {
	res, err := parseRobokassaResult(payload)
	if err != nil || res.Signature == "" || res.InvID == "" {
		return false
	}
	expected := md5Upper(res.OutSum, res.InvID, r.pass2(res.IsTest), robokassaOrderParam+"="+res.OrderID)
	return strings.EqualFold(expected, res.Signature)
}

func (r *Robokassa) ParseWebhook(payload []byte) (WebhookResult, error) {
	res, err := parseRobokassaResult(payload)
	if err != nil {
		return WebhookResult{}, err
	}
	orderID, err := strconv.ParseInt(res.OrderID, 10, 64)
	if err != nil || orderID <= 0 {
		return WebhookResult{}, fmt.Errorf("robokassa: invalid %s %q", robokassaOrderParam, res.OrderID)
	}
	return WebhookResult{
		OrderID:       orderID,
		TransactionID: res.InvID,
		Status:        WebhookCompleted,
		Raw:           payload,
	}, nil
}

// WebhookReply is the plain text answer Robokassa expects; anything else is retried.
func (r *Robokassa) WebhookReply(result WebhookResult) string {
	return "OK" + result.TransactionID
}
