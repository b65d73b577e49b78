package backend

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/dealsafe/internal/voucher"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("users", func() {
		var user *User

		BeforeEach(func() {
			user = &User{PhoneNumber: "+4512345678", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
			Expect(db.SaveUser(user)).To(Succeed())
		})

		It("should assign an ID", func() {
			Expect(user.ID).To(Equal(int64(1)))
		})

		It("should find the user by ID and phone", func() {
			byID, err := db.GetUser(user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.PhoneNumber).To(Equal("+4512345678"))

			byPhone, err := db.GetUserByPhone("+4512345678")
			Expect(err).NotTo(HaveOccurred())
			Expect(byPhone.ID).To(Equal(user.ID))
		})

		It("should return ErrNotFound for unknown users", func() {
			_, err := db.GetUser(42)
			Expect(err).To(MatchError(ErrNotFound))
			_, err = db.GetUserByPhone("+4587654321")
			Expect(err).To(MatchError(ErrNotFound))
		})

		When("the user is deleted", func() {
			var other *User

			BeforeEach(func() {
				other = &User{PhoneNumber: "+4587654321"}
				Expect(db.SaveUser(other)).To(Succeed())

				Expect(db.SaveToken("mine", user.ID)).To(Succeed())
				Expect(db.SaveToken("theirs", other.ID)).To(Succeed())
				Expect(db.SaveVoucher(&Record{UserID: user.ID, BlobName: "u1-a.jpg"})).To(Succeed())
				Expect(db.SaveVoucher(&Record{UserID: other.ID, BlobName: "u2-b.jpg"})).To(Succeed())
				Expect(db.SavePushToken(&PushToken{UserID: user.ID, Token: "ntfy-1"})).To(Succeed())

				Expect(db.DeleteUser(user.ID)).To(Succeed())
			})

			It("should remove the account and its phone index", func() {
				_, err := db.GetUser(user.ID)
				Expect(err).To(MatchError(ErrNotFound))
				_, err = db.GetUserByPhone(user.PhoneNumber)
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("should remove what the user owns", func() {
				_, err := db.GetToken("mine")
				Expect(err).To(MatchError(ErrNotFound))

				vouchers, err := db.ListVouchers(user.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(vouchers).To(BeEmpty())

				tokens, err := db.ListPushTokens(user.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(tokens).To(BeEmpty())
			})

			It("should leave other users alone", func() {
				id, err := db.GetToken("theirs")
				Expect(err).NotTo(HaveOccurred())
				Expect(id).To(Equal(other.ID))

				vouchers, err := db.ListVouchers(other.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(vouchers).To(HaveLen(1))
			})
		})
	})

	Describe("OTPs", func() {
		It("should round trip and delete", func() {
			otp := &OTP{Code: "123456", Attempts: 2}
			Expect(db.SaveOTP("login:+4512345678", otp)).To(Succeed())

			got, err := db.GetOTP("login:+4512345678")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Code).To(Equal("123456"))
			Expect(got.Attempts).To(Equal(2))

			Expect(db.DeleteOTP("login:+4512345678")).To(Succeed())
			_, err = db.GetOTP("login:+4512345678")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("vouchers", func() {
		var record *Record

		BeforeEach(func() {
			value := "500 DKK"
			record = &Record{
				Voucher: voucher.Voucher{
					FileURL:         "http://localhost/api/blobs/u1-a.jpg",
					RedemptionValue: &value,
					IsValid:         true,
					UsageGuide:      &voucher.UsageGuide{Raw: "1. Go", Steps: []string{"Go"}},
				},
				UserID:   1,
				BlobName: "u1-a.jpg",
			}
			Expect(db.SaveVoucher(record)).To(Succeed())
		})

		It("should assign sequential IDs", func() {
			second := &Record{UserID: 1}
			Expect(db.SaveVoucher(second)).To(Succeed())
			Expect(record.ID).To(Equal(int64(1)))
			Expect(second.ID).To(Equal(int64(2)))
		})

		It("should keep the voucher fields", func() {
			got, err := db.GetVoucher(record.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.RedemptionValue).To(Equal("500 DKK"))
			Expect(got.UsageGuide.Steps).To(Equal([]string{"Go"}))
			Expect(got.UserID).To(Equal(int64(1)))
			Expect(got.BlobName).To(Equal("u1-a.jpg"))
		})

		It("should update in place", func() {
			record.IsValid = false
			Expect(db.SaveVoucher(record)).To(Succeed())

			vouchers, err := db.ListVouchers(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(vouchers).To(HaveLen(1))
			Expect(vouchers[0].IsValid).To(BeFalse())
		})

		It("should list only the owner's vouchers", func() {
			Expect(db.SaveVoucher(&Record{UserID: 2})).To(Succeed())
			vouchers, err := db.ListVouchers(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(vouchers).To(HaveLen(1))
		})

		It("should delete", func() {
			Expect(db.DeleteVoucher(record.ID)).To(Succeed())
			_, err := db.GetVoucher(record.ID)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("push tokens", func() {
		It("should replace a registration with the same token", func() {
			Expect(db.SavePushToken(&PushToken{UserID: 1, Token: "abc", DeviceName: "old"})).To(Succeed())
			Expect(db.SavePushToken(&PushToken{UserID: 1, Token: "abc", DeviceName: "new"})).To(Succeed())

			tokens, err := db.ListPushTokens(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(HaveLen(1))
			Expect(tokens[0].DeviceName).To(Equal("new"))
		})
	})

	It("should keep data across reopen", func() {
		Expect(db.SaveToken("persist", 7)).To(Succeed())
		Expect(db.Close()).To(Succeed())

		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		id, err := db.GetToken("persist")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(7)))
	})
})
