package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
	"github.com/healthsync/healthsync/internal/platform/db"
	"github.com/healthsync/healthsync/pkg/pagination"
)

const (
	minPasswordLen    = 8
	maxUsernameLen    = 150
	maxPhoneLen       = 15
	maxNameLen        = 150
	maxEmailLen       = 254
	maxSpecialization = 100
)

type Service struct {
	users       UserRepository
	doctors     DoctorRepository
	patients    PatientRepository
	tokens      *auth.Tokens
	revocations auth.RevocationStore
	tx          db.TxRunner
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(users UserRepository, doctors DoctorRepository, patients PatientRepository,
	tokens *auth.Tokens, revocations auth.RevocationStore, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		users:       users,
		doctors:     doctors,
		patients:    patients,
		tokens:      tokens,
		revocations: revocations,
		tx:          tx,
		logger:      logger.With().Str("component", "identity").Logger(),
		now:         time.Now,
	}
}

// -- Registration & profile --

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	Password2   string
	FirstName   string
	LastName    string
	PhoneNumber *string
	IsDoctor    bool
	IsPatient   bool
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(in.Email, true); err != nil {
		return nil, err
	}
	if err := validateName("first_name", in.FirstName); err != nil {
		return nil, err
	}
	if err := validateName("last_name", in.LastName); err != nil {
		return nil, err
	}
	if in.Password == "" || in.Password2 == "" {
		return nil, apperr.BadRequest("password_required", "password and password2 are required")
	}
	if in.Password != in.Password2 {
		return nil, apperr.BadRequest("password_mismatch", "password fields didn't match")
	}
	if err := validatePassword(in.Password, in.Username); err != nil {
		return nil, err
	}
	if err := validatePhone(in.PhoneNumber); err != nil {
		return nil, err
	}

	u, err := s.createUser(ctx, in, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("username", u.Username).Msg("user registered")
	return u, nil
}

// CreateAdmin makes a staff account. Only reachable from the CLI.
func (s *Service) CreateAdmin(ctx context.Context, username, email, password string) (*User, error) {
	in := RegisterInput{Username: strings.TrimSpace(username), Email: email, Password: password, Password2: password}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(in.Email, false); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password, in.Username); err != nil {
		return nil, err
	}
	return s.createUser(ctx, in, true)
}

func (s *Service) createUser(ctx context.Context, in RegisterInput, staff bool) (*User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Username:     in.Username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  in.PhoneNumber,
		IsDoctor:     in.IsDoctor,
		IsPatient:    in.IsPatient,
		IsStaff:      staff,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, apperr.BadRequest("username_taken", "a user with that username already exists")
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	return u, err
}

// ProfileUpdate holds the fields a user may change on their own account.
// Nil means unchanged.
type ProfileUpdate struct {
	Email       *string
	FirstName   *string
	LastName    *string
	PhoneNumber *string
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		if err := validateEmail(*upd.Email, false); err != nil {
			return nil, err
		}
		u.Email = strings.TrimSpace(*upd.Email)
	}
	if upd.FirstName != nil {
		if err := validateName("first_name", *upd.FirstName); err != nil {
			return nil, err
		}
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		if err := validateName("last_name", *upd.LastName); err != nil {
			return nil, err
		}
		u.LastName = *upd.LastName
	}
	if upd.PhoneNumber != nil {
		if err := validatePhone(upd.PhoneNumber); err != nil {
			return nil, err
		}
		if *upd.PhoneNumber == "" {
			u.PhoneNumber = nil
		} else {
			u.PhoneNumber = upd.PhoneNumber
		}
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// -- Tokens --

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// Authenticate checks credentials and issues a token pair. Unknown users
// still pay for a bcrypt comparison.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*auth.TokenPair, error) {
	invalid := apperr.Unauthorized("invalid_credentials", "no active account found with the given credentials")

	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if u == nil {
		dummyHashOnce.Do(func() { dummyHash, _ = auth.HashPassword("not-a-real-password") })
		auth.CheckPassword(dummyHash, password)
		s.logger.Warn().Str("username", username).Msg("login failed: unknown user")
		return nil, invalid
	}
	if !auth.CheckPassword(u.PasswordHash, password) || !u.IsActive {
		s.logger.Warn().Str("user_id", u.ID.String()).Bool("active", u.IsActive).Msg("login failed")
		return nil, invalid
	}
	return s.tokens.IssuePair(u.ID.String())
}

// Refresh trades a refresh token for a new pair and revokes the old one.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.checkToken(ctx, refreshToken, auth.RefreshToken)
	if err != nil {
		return nil, err
	}
	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Unauthorized("token_not_valid", "token is invalid or expired")
	}
	u, err := s.users.GetByID(ctx, uid)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !u.IsActive) {
		return nil, apperr.Unauthorized("user_inactive", "user is inactive or deleted")
	}
	if err != nil {
		return nil, err
	}
	// consuming the old token and checking it was unused is one step
	if err := s.revocations.RevokeOnce(ctx, claims.ID, claims.Expiry()); err != nil {
		if errors.Is(err, auth.ErrTokenRevoked) {
			return nil, apperr.Unauthorized("token_not_valid", "token is invalid or expired")
		}
		return nil, err
	}
	return s.tokens.IssuePair(claims.Subject)
}

// Verify accepts any unrevoked, well-formed token of either type.
func (s *Service) Verify(ctx context.Context, token string) error {
	if _, err := s.checkToken(ctx, token, auth.AccessToken); err == nil {
		return nil
	}
	_, err := s.checkToken(ctx, token, auth.RefreshToken)
	return err
}

// Logout revokes the caller's access token and, when given, their refresh
// token. A refresh token belonging to someone else is rejected.
func (s *Service) Logout(ctx context.Context, access *auth.Claims, refreshToken string) error {
	if access == nil {
		return apperr.Unauthorized("not_authenticated", "authentication credentials were not provided")
	}
	if refreshToken != "" {
		rc, err := s.checkToken(ctx, refreshToken, auth.RefreshToken)
		if err != nil {
			return err
		}
		if rc.Subject != access.Subject {
			return apperr.BadRequest("token_mismatch", "refresh token does not belong to the caller")
		}
		if err := s.revocations.Revoke(ctx, rc.ID, rc.Expiry()); err != nil {
			return err
		}
	}
	if err := s.revocations.Revoke(ctx, access.ID, access.Expiry()); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", access.Subject).Msg("user logged out")
	return nil
}

func (s *Service) checkToken(ctx context.Context, raw string, typ auth.TokenType) (*auth.Claims, error) {
	invalid := apperr.Unauthorized("token_not_valid", "token is invalid or expired")
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.BadRequest("token_required", "token is required")
	}
	claims, err := s.tokens.Parse(raw, typ)
	if err != nil {
		return nil, invalid
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, invalid
	}
	return claims, nil
}

// -- Principal --

// Principal loads the caller's account and profiles and resolves their
// role. Unknown or inactive users are Unauthorized.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	denied := apperr.Unauthorized("user_inactive", "user is inactive or deleted")
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, denied
	}
	u, err := s.users.GetByID(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return nil, denied
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, denied
	}
	if u.IsStaff {
		return Admin{User: u}, nil
	}

	doctor, err := s.doctors.GetByUserID(ctx, u.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if doctor != nil {
		return ResolvePrincipal(u, doctor, nil), nil
	}
	patient, err := s.patients.GetByUserID(ctx, u.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	return ResolvePrincipal(u, nil, patient), nil
}

// -- Doctor & patient profiles (admin only) --

type DoctorInput struct {
	UserID         uuid.UUID
	Specialization string
}

func (s *Service) CreateDoctor(ctx context.Context, p Principal, in DoctorInput) (*DoctorProfile, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	in.Specialization = strings.TrimSpace(in.Specialization)
	if in.Specialization == "" || len(in.Specialization) > maxSpecialization {
		return nil, apperr.BadRequest("invalid_specialization", "specialization must be 1 to 100 characters")
	}

	var d *DoctorProfile
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.linkTarget(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !u.IsDoctor {
			return apperr.BadRequest("user_not_doctor", "user is not flagged as a doctor")
		}
		d = &DoctorProfile{UserID: u.ID, Username: u.Username, Specialization: in.Specialization}
		return s.doctors.Create(ctx, d)
	})
	if errors.Is(err, ErrAlreadyLinked) {
		return nil, apperr.Conflict("already_linked", "user already has a doctor profile")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, p Principal, id uuid.UUID) (*DoctorProfile, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("doctor_not_found", "doctor not found")
	}
	return d, err
}

func (s *Service) ListDoctors(ctx context.Context, p Principal, page pagination.Params) ([]*DoctorProfile, int, error) {
	if err := requireAdmin(p); err != nil {
		return nil, 0, err
	}
	return s.doctors.List(ctx, page)
}

type PatientInput struct {
	UserID      uuid.UUID
	DateOfBirth string
	Gender      string
}

func (s *Service) CreatePatient(ctx context.Context, p Principal, in PatientInput) (*PatientProfile, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	dob, err := time.Parse(DateLayout, strings.TrimSpace(in.DateOfBirth))
	if err != nil {
		return nil, apperr.BadRequest("invalid_date_of_birth", "date_of_birth must be YYYY-MM-DD")
	}
	if dob.After(s.now()) {
		return nil, apperr.BadRequest("invalid_date_of_birth", "date_of_birth cannot be in the future")
	}
	gender, ok := ParseGender(in.Gender)
	if !ok {
		return nil, apperr.BadRequest("invalid_gender", "gender must be M or F")
	}

	var pt *PatientProfile
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.linkTarget(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !u.IsPatient {
			return apperr.BadRequest("user_not_patient", "user is not flagged as a patient")
		}
		pt = &PatientProfile{UserID: u.ID, Username: u.Username, DateOfBirth: dob, Gender: gender}
		return s.patients.Create(ctx, pt)
	})
	if errors.Is(err, ErrAlreadyLinked) {
		return nil, apperr.Conflict("already_linked", "user already has a patient profile")
	}
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func (s *Service) GetPatient(ctx context.Context, p Principal, id uuid.UUID) (*PatientProfile, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	pt, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("patient_not_found", "patient not found")
	}
	return pt, err
}

func (s *Service) ListPatients(ctx context.Context, p Principal, page pagination.Params) ([]*PatientProfile, int, error) {
	if err := requireAdmin(p); err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, page)
}

func (s *Service) linkTarget(ctx context.Context, userID uuid.UUID) (*User, error) {
	if userID == uuid.Nil {
		return nil, apperr.BadRequest("user_required", "user_id is required")
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.BadRequest("unknown_user", "user does not exist")
	}
	return u, err
}

func requireAdmin(p Principal) error {
	if _, ok := p.(Admin); !ok {
		return apperr.Forbidden("permission_denied", "you do not have permission to perform this action")
	}
	return nil
}

// -- Validation --

func validateUsername(username string) error {
	if username == "" {
		return apperr.BadRequest("username_required", "username is required")
	}
	if len(username) > maxUsernameLen {
		return apperr.BadRequest("invalid_username", "username must be at most 150 characters")
	}
	for _, r := range username {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r)) {
			return apperr.BadRequest("invalid_username", "username may contain only letters, digits and @/./+/-/_")
		}
	}
	return nil
}

func validateEmail(email string, required bool) error {
	email = strings.TrimSpace(email)
	if email == "" {
		if required {
			return apperr.BadRequest("email_required", "email is required")
		}
		return nil
	}
	if utf8.RuneCountInString(email) > maxEmailLen {
		return apperr.BadRequest("invalid_email", "email must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.BadRequest("invalid_email", "enter a valid email address")
	}
	return nil
}

func validatePassword(password, username string) error {
	if len(password) < minPasswordLen {
		return apperr.BadRequest("password_too_short", "password must contain at least 8 characters")
	}
	numeric := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return apperr.BadRequest("password_entirely_numeric", "password can't be entirely numeric")
	}
	if username != "" && strings.EqualFold(password, username) {
		return apperr.BadRequest("password_too_similar", "password is too similar to the username")
	}
	return nil
}

// validateName bounds first_name and last_name by characters, the unit
// VARCHAR counts in.
func validateName(field, value string) error {
	if utf8.RuneCountInString(value) > maxNameLen {
		return apperr.BadRequest("invalid_"+field, field+" must be at most 150 characters")
	}
	return nil
}

func validatePhone(phone *string) error {
	if phone != nil && len(*phone) > maxPhoneLen {
		return apperr.BadRequest("invalid_phone_number", "phone_number must be at most 15 characters")
	}
	return nil
}
