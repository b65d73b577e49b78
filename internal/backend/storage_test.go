package backend

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = filepath.Join(GinkgoT().TempDir(), "blobs")
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the directory", func() {
		info, err := os.Stat(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	Describe("Save", func() {
		It("should write the blob and return its name", func() {
			name, err := storage.Save("u1-abc.jpg", []byte("content"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("u1-abc.jpg"))

			data, err := os.ReadFile(filepath.Join(tmpDir, "u1-abc.jpg"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("content"))
		})

		It("should reject names that leave the directory", func() {
			_, err := storage.Save("../escape.jpg", []byte("x"))
			Expect(err).To(HaveOccurred())
			_, err = storage.Save("..", []byte("x"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		It("should read a saved blob", func() {
			_, err := storage.Save("u1-abc.pdf", []byte("%PDF"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("u1-abc.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF")))
		})

		It("should fail for missing blobs", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("should remove the blob", func() {
			_, err := storage.Save("u1-abc.jpg", []byte("content"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("u1-abc.jpg")).To(Succeed())
			_, err = os.Stat(filepath.Join(tmpDir, "u1-abc.jpg"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should fail for missing blobs", func() {
			Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
		})
	})
})
